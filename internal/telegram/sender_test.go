package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI records Bot API calls and answers them like api.telegram.org.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []apiCall

	failSendMessage bool
}

type apiCall struct {
	method string
	params map[string]any
}

func (f *fakeBotAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths look like /bot<token>/<method>.
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		params := map[string]any{}
		switch {
		case strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"):
			_ = json.NewDecoder(r.Body).Decode(&params)
		default:
			_ = r.ParseMultipartForm(1 << 20)
			for k, v := range r.Form {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, params: params})
		fail := f.failSendMessage && method == "sendMessage"
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}

		switch method {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"TechDigest","username":"TechDigest_bot"}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":555}}}`))
		}
	})
}

func (f *fakeBotAPI) lastCall(t *testing.T) apiCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestSender(t *testing.T, cfg Config) (*Sender, *fakeBotAPI) {
	t.Helper()

	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg.BotToken = "12345:TESTTOKEN"
	cfg.APIURL = srv.URL

	s, err := NewSender(cfg)
	require.NoError(t, err)
	return s, api
}

func TestNewSender_RequiresToken(t *testing.T) {
	_, err := NewSender(Config{})
	assert.Error(t, err)
}

func TestUsername_ResolvedViaGetMe(t *testing.T) {
	s, api := newTestSender(t, Config{})

	username, err := s.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "techdigest_bot", username)
	assert.Equal(t, "getMe", api.lastCall(t).method)

	// Second call uses the cached value.
	username, err = s.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "techdigest_bot", username)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.calls, 1)
}

func TestUsername_ConfiguredSkipsGetMe(t *testing.T) {
	s, api := newTestSender(t, Config{BotUsername: "@TechDigest_bot"})

	username, err := s.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "techdigest_bot", username)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.calls)
}

func TestSendText(t *testing.T) {
	s, api := newTestSender(t, Config{})

	err := s.SendText(context.Background(), 555, "hello", false)
	require.NoError(t, err)

	call := api.lastCall(t)
	assert.Equal(t, "sendMessage", call.method)
	assert.Equal(t, "555", call.params["chat_id"])
	assert.Equal(t, "hello", call.params["text"])
	assert.NotContains(t, call.params, "link_preview_options")
}

func TestSendText_DisablesPreview(t *testing.T) {
	s, api := newTestSender(t, Config{})

	err := s.SendText(context.Background(), 555, "https://example.com", true)
	require.NoError(t, err)

	call := api.lastCall(t)
	require.Contains(t, call.params, "link_preview_options")
	assert.Contains(t, call.params["link_preview_options"], "is_disabled")
}

func TestSendText_APIError(t *testing.T) {
	s, api := newTestSender(t, Config{})
	api.failSendMessage = true

	err := s.SendText(context.Background(), 555, "hello", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 555")
}

func TestSendAudio(t *testing.T) {
	s, api := newTestSender(t, Config{})

	err := s.SendAudio(context.Background(), 555, "https://cdn.example.com/ep1.mp3", "Episode 1")
	require.NoError(t, err)

	call := api.lastCall(t)
	assert.Equal(t, "sendAudio", call.method)
	assert.Equal(t, "https://cdn.example.com/ep1.mp3", call.params["audio"])
	assert.Equal(t, "Episode 1", call.params["caption"])
}
