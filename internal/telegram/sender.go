// Package telegram provides the outbound Telegram Bot API client used for
// confirmation replies and topic notifications.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

const defaultSendTimeout = 10 * time.Second

// Config holds telegram sender configuration.
type Config struct {
	BotToken string
	// BotUsername is optional; when empty it is resolved via getMe on first
	// use and cached.
	BotUsername string
	// APIURL overrides the Bot API server, used by tests.
	APIURL string
	// SendTimeout bounds every outbound call.
	SendTimeout time.Duration
	// RateLimit caps outbound messages per second; zero disables limiting.
	RateLimit float64
}

// Sender sends messages through the Telegram Bot API.
type Sender struct {
	bot     *bot.Bot
	limiter *rate.Limiter

	mu       sync.Mutex
	username string
}

// NewSender creates a telegram sender.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram sender: bot token is required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(cfg.SendTimeout, &http.Client{Timeout: cfg.SendTimeout}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	slog.Info("telegram sender configured",
		"username_configured", cfg.BotUsername != "",
		"rate_limit", cfg.RateLimit,
	)

	return &Sender{
		bot:      b,
		limiter:  limiter,
		username: normalizeUsername(cfg.BotUsername),
	}, nil
}

// Username returns the bot's username for deep-link construction, resolving
// it via getMe once when not configured.
func (s *Sender) Username(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.username != "" {
		return s.username, nil
	}

	me, err := s.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve bot username: %w", err)
	}
	if me.Username == "" {
		return "", errors.New("bot has no username")
	}

	s.username = normalizeUsername(me.Username)
	return s.username, nil
}

// SendText sends a plain text message to a chat.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string, disablePreview bool) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if disablePreview {
		params.LinkPreviewOptions = &models.LinkPreviewOptions{IsDisabled: bot.True()}
	}

	if _, err := s.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return nil
}

// SendAudio sends an audio file by URL, with an optional caption.
func (s *Sender) SendAudio(ctx context.Context, chatID int64, audioURL, caption string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	if _, err := s.bot.SendAudio(ctx, &bot.SendAudioParams{
		ChatID:  chatID,
		Audio:   &models.InputFileString{Data: audioURL},
		Caption: caption,
	}); err != nil {
		return fmt.Errorf("send audio to chat %d: %w", chatID, err)
	}
	return nil
}

func (s *Sender) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
