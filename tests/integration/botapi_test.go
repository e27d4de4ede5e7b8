//go:build integration

package integration

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// fakeBotAPI stands in for api.telegram.org. It records every outbound
// message per chat and answers every method with a success payload.
type fakeBotAPI struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func newFakeBotAPI() *fakeBotAPI {
	return &fakeBotAPI{messages: map[int64][]string{}}
}

func (f *fakeBotAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		w.Header().Set("Content-Type", "application/json")
		if method == "getMe" {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"TechDigest","username":"techdigest_bot"}}`))
			return
		}

		_ = r.ParseMultipartForm(1 << 20)
		if method == "sendMessage" {
			chatID, _ := strconv.ParseInt(r.Form.Get("chat_id"), 10, 64)
			f.mu.Lock()
			f.messages[chatID] = append(f.messages[chatID], r.Form.Get("text"))
			f.mu.Unlock()
		}

		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	})
}

// messagesFor returns the texts sent to chatID so far.
func (f *fakeBotAPI) messagesFor(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[chatID]...)
}
