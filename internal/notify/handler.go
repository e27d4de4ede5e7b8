package notify

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techdigest/subscriptions/internal/pkg/httputil"
	"github.com/techdigest/subscriptions/internal/registry"
	"github.com/techdigest/subscriptions/internal/storage"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: registry.ErrUnknownTopic, Status: http.StatusBadRequest, Message: "unknown topic"},
	{Error: ErrEmptyPayload, Status: http.StatusBadRequest, Message: "at least one of text or audio_url is required"},
	{Error: storage.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "storage unavailable"},
}

// Handler exposes the upstream-facing notification endpoints.
type Handler struct {
	service  *Service
	registry *registry.Registry
}

// NewHandler creates a notify handler.
func NewHandler(service *Service, reg *registry.Registry) *Handler {
	return &Handler{service: service, registry: reg}
}

// RegisterRoutes registers notify routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/topics/{topic}/notify", h.Notify)
	r.Get("/topics/{topic}/chat-ids", h.ChatIDs)
	r.Get("/subscriptions", h.Subscriptions)
}

// NotifyRequest is the body of POST /topics/{topic}/notify.
// disable_web_page_preview defaults to true when omitted.
type NotifyRequest struct {
	Text                  string `json:"text"`
	AudioURL              string `json:"audio_url"`
	Caption               string `json:"caption"`
	DisableWebPagePreview *bool  `json:"disable_web_page_preview"`
}

// Notify handles POST /api/telegram/topics/{topic}/notify.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	msg := Message{
		Text:                  req.Text,
		AudioURL:              req.AudioURL,
		Caption:               req.Caption,
		DisableWebPagePreview: req.DisableWebPagePreview == nil || *req.DisableWebPagePreview,
	}

	result, err := h.service.Notify(r.Context(), chi.URLParam(r, "topic"), msg)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ChatIDs handles GET /api/telegram/topics/{topic}/chat-ids.
func (h *Handler) ChatIDs(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	chats, err := h.service.ListChats(r.Context(), topic)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"topic":    topic,
		"chat_ids": chats,
	})
}

// Subscriptions handles GET /api/telegram/subscriptions.
func (h *Handler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.registry.Snapshot(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}
