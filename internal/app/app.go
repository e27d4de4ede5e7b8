// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techdigest/subscriptions/internal/config"
	"github.com/techdigest/subscriptions/internal/notify"
	"github.com/techdigest/subscriptions/internal/pkg/ctxlog"
	"github.com/techdigest/subscriptions/internal/pkg/httputil"
	"github.com/techdigest/subscriptions/internal/registry"
	"github.com/techdigest/subscriptions/internal/storage"
	filestore "github.com/techdigest/subscriptions/internal/storage/file"
	redisstore "github.com/techdigest/subscriptions/internal/storage/redis"
	"github.com/techdigest/subscriptions/internal/subscribe"
	"github.com/techdigest/subscriptions/internal/telegram"
	"github.com/techdigest/subscriptions/internal/version"
	"github.com/techdigest/subscriptions/internal/webhook"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         storage.Store
	server        *http.Server
	metricsServer *http.Server
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage backend: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		store:  store,
	}

	router, err := app.setupRouter()
	if err != nil {
		app.closeStore()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage_backend", a.config.Storage.Backend,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeStore()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", a.healthHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	reg, err := registry.New(a.store, registry.Config{
		Topics:        a.config.Subscriptions.Topics,
		LinkTTL:       a.config.Subscriptions.LinkTTL,
		LinkRetention: a.config.Subscriptions.LinkRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}

	sender, err := telegram.NewSender(telegram.Config{
		BotToken:    a.config.Telegram.BotToken,
		BotUsername: a.config.Telegram.BotUsername,
		APIURL:      a.config.Telegram.APIURL,
		SendTimeout: a.config.Telegram.SendTimeout,
		RateLimit:   a.config.Telegram.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}

	subscribeHandler := subscribe.NewHandler(subscribe.NewService(reg, sender))
	webhookHandler := webhook.NewHandler(a.config.Telegram.WebhookSecret, webhook.NewService(reg, sender))
	notifyHandler := notify.NewHandler(
		notify.NewService(reg, sender, a.config.Subscriptions.NotifyConcurrency),
		reg,
	)

	r.Route("/api/telegram", func(r chi.Router) {
		subscribeHandler.RegisterRoutes(r)
		webhookHandler.RegisterRoutes(r)
		notifyHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	// Liveness only: must answer without touching dependencies.
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"service":      "telegram-subscriptions",
		"topics_count": len(a.config.Subscriptions.Topics),
	})
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return redisstore.New(connectCtx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return filestore.New(cfg.File.Path)
	}
}

func (a *App) closeStore() {
	if closer, ok := a.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Error("failed to close storage", "error", err)
		}
	}
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
