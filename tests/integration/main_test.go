//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/techdigest/subscriptions/internal/app"
	"github.com/techdigest/subscriptions/internal/config"
	"github.com/techdigest/subscriptions/internal/testutil"
)

const webhookSecret = "integration-webhook-secret"

var (
	testServer *httptest.Server
	botAPI     *fakeBotAPI
)

// newTestClient creates a test client with the webhook secret preset. Tests
// that exercise secret rejection override the header themselves.
func newTestClient() *testutil.Client {
	client := testutil.NewClient(testServer.URL)
	client.Headers["X-Telegram-Bot-Api-Secret-Token"] = webhookSecret
	return client
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	redisContainer, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()

	botAPI = newFakeBotAPI()
	botServer := httptest.NewServer(botAPI.handler())
	defer botServer.Close()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         "0",
			MetricsPort:  "0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "text",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Telegram: config.TelegramConfig{
			BotToken:      "12345:INTEGRATION",
			BotUsername:   "techdigest_bot",
			WebhookSecret: webhookSecret,
			APIURL:        botServer.URL,
			SendTimeout:   5 * time.Second,
		},
		Storage: config.StorageConfig{
			Backend: config.BackendRedis,
			Redis: config.RedisStorageConfig{
				Addr:      redisContainer.Addr,
				KeyPrefix: "subs-test:",
			},
		},
		Subscriptions: config.SubscriptionsConfig{
			Topics:            []string{"data-engineering", "machine-learning", "ai-tools"},
			LinkTTL:           15 * time.Minute,
			LinkRetention:     24 * time.Hour,
			NotifyConcurrency: 2,
		},
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testServer = httptest.NewServer(application.Router())
	defer testServer.Close()

	os.Exit(m.Run())
}
