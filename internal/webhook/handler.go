package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-telegram/bot/models"

	"github.com/techdigest/subscriptions/internal/pkg/ctxlog"
	"github.com/techdigest/subscriptions/internal/pkg/httputil"
	"github.com/techdigest/subscriptions/internal/storage"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: storage.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "storage unavailable"},
}

// secretHeader is set by Telegram on every webhook delivery when the webhook
// was registered with a secret_token.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Handler terminates the public webhook endpoint.
type Handler struct {
	secret  string
	service *Service
}

// NewHandler creates a webhook handler. The secret must be non-empty; the
// endpoint is publicly reachable and unauthenticated updates are never
// processed.
func NewHandler(secret string, service *Service) *Handler {
	return &Handler{secret: secret, service: service}
}

// RegisterRoutes registers the webhook route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Webhook)
}

// Webhook handles POST /api/telegram/webhook. The secret header is compared
// before the body is read; a mismatch rejects the request with no parsing
// and no state change.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get(secretHeader)
	if subtle.ConstantTimeCompare([]byte(header), []byte(h.secret)) != 1 {
		ctxlog.FromContext(r.Context()).Warn("webhook secret mismatch", "remote_addr", r.RemoteAddr)
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var update models.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid update payload")
		return
	}

	if err := h.service.Process(r.Context(), &update); err != nil {
		// Storage failures get a 5xx so Telegram redelivers the update.
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
