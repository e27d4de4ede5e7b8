package subscribe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techdigest/subscriptions/internal/domain"
	"github.com/techdigest/subscriptions/internal/pkg/httputil"
	"github.com/techdigest/subscriptions/internal/registry"
	"github.com/techdigest/subscriptions/internal/storage"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: registry.ErrUnknownTopic, Status: http.StatusBadRequest, Message: "unknown topic"},
	{Error: ErrBotUnavailable, Status: http.StatusServiceUnavailable, Message: "telegram bot unavailable, try again later"},
	{Error: storage.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "storage unavailable"},
}

// Handler exposes the browser-facing subscribe endpoints.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a subscribe handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers subscribe routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/subscribe", h.Subscribe)
	r.Get("/subscribe/{token}/status", h.Status)
	r.Get("/topics", h.Topics)
}

// SubscribeRequest is the body of POST /subscribe.
type SubscribeRequest struct {
	Topic string `json:"topic" validate:"required"`
}

// Subscribe handles POST /api/telegram/subscribe.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	link, err := h.service.Issue(r.Context(), req.Topic)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"token":              link.Token,
		"topic":              link.Topic,
		"bot_username":       link.BotUsername,
		"start_param":        link.StartParam,
		"deep_link_url":      link.DeepLinkURL,
		"status_url":         "/api/telegram/subscribe/" + link.Token + "/status",
		"expires_in_seconds": int64(time.Until(link.ExpiresAt).Seconds()),
	})
}

// Status handles GET /api/telegram/subscribe/{token}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := map[string]any{"state": status.State}
	if status.State != domain.LinkStateUnknown {
		resp["topic"] = status.Topic
		resp["expires_at"] = status.ExpiresAt.Unix()
		resp["expires_in_seconds"] = max(int64(time.Until(status.ExpiresAt).Seconds()), 0)
	}
	if status.State == domain.LinkStateConfirmed {
		resp["confirmed_at"] = status.ConfirmedAt.Unix()
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Topics handles GET /api/telegram/topics.
func (h *Handler) Topics(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{"topics": h.service.Topics()})
}
