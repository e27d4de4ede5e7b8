package subscribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdigest/subscriptions/internal/domain"
	"github.com/techdigest/subscriptions/internal/registry"
	filestore "github.com/techdigest/subscriptions/internal/storage/file"
)

type fakeBot struct {
	username string
	err      error
}

func (f *fakeBot) Username(context.Context) (string, error) {
	return f.username, f.err
}

func newTestRouter(t *testing.T, bot BotIdentity) (*chi.Mux, *registry.Registry, *filestore.Store) {
	t.Helper()

	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	reg, err := registry.New(store, registry.Config{
		Topics:  []string{"data-engineering", "machine-learning"},
		LinkTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(NewService(reg, bot)).RegisterRoutes(r)
	return r, reg, store
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestSubscribe_IssuesDeepLink(t *testing.T) {
	r, reg, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, resp := doJSON(t, r, http.MethodPost, "/subscribe", `{"topic":"data-engineering"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "data-engineering", resp["topic"])
	assert.Equal(t, "techdigest_bot", resp["bot_username"])
	assert.Equal(t, "subscribe_"+token, resp["start_param"])
	assert.Equal(t, "https://t.me/techdigest_bot?start=subscribe_"+token, resp["deep_link_url"])
	assert.Equal(t, "/api/telegram/subscribe/"+token+"/status", resp["status_url"])
	assert.InDelta(t, 900, resp["expires_in_seconds"], 5)

	// The pending record is queryable through the registry.
	status, err := reg.LinkStatus(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStatePending, status.State)
}

func TestSubscribe_UnknownTopic(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, _ := doJSON(t, r, http.MethodPost, "/subscribe", `{"topic":"not-configured"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe_MissingTopic(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, _ := doJSON(t, r, http.MethodPost, "/subscribe", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe_InvalidJSON(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, _ := doJSON(t, r, http.MethodPost, "/subscribe", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe_BotUnavailable(t *testing.T) {
	r, _, store := newTestRouter(t, &fakeBot{err: errors.New("getMe: connection refused")})

	rec, _ := doJSON(t, r, http.MethodPost, "/subscribe", `{"topic":"data-engineering"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Username resolution happens before any state is written.
	pending, err := store.List(context.Background(), "pending:")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStatus_Unknown(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, resp := doJSON(t, r, http.MethodGet, "/subscribe/bogus-token/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown", resp["state"])
	assert.NotContains(t, resp, "topic")
}

func TestStatus_AcceptsStartParam(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	_, issued := doJSON(t, r, http.MethodPost, "/subscribe", `{"topic":"machine-learning"}`)
	startParam := issued["start_param"].(string)

	rec, resp := doJSON(t, r, http.MethodGet, "/subscribe/"+startParam+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", resp["state"])
	assert.Equal(t, "machine-learning", resp["topic"])
}

func TestStatus_Confirmed(t *testing.T) {
	r, reg, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	_, issued := doJSON(t, r, http.MethodPost, "/subscribe", `{"topic":"data-engineering"}`)
	token := issued["token"].(string)

	_, err := reg.Confirm(context.Background(), token, 555, domain.ChatProfile{Username: "alice"})
	require.NoError(t, err)

	rec, resp := doJSON(t, r, http.MethodGet, "/subscribe/"+token+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", resp["state"])
	assert.Contains(t, resp, "confirmed_at")
}

func TestTopics_List(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeBot{username: "techdigest_bot"})

	rec, resp := doJSON(t, r, http.MethodGet, "/topics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"data-engineering", "machine-learning"}, resp["topics"])
}
