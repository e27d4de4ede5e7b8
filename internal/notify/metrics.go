package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "subscriptions"

var deliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Per-chat notification deliveries by outcome",
	},
	[]string{"status"},
)

func recordDelivery(status string) {
	deliveriesTotal.WithLabelValues(status).Inc()
}
