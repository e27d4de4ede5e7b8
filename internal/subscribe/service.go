// Package subscribe implements the deep-link issuer: it mints one-time
// subscribe tokens and reports their confirmation status to the browser.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/techdigest/subscriptions/internal/domain"
	"github.com/techdigest/subscriptions/internal/registry"
)

// ErrBotUnavailable means the bot username could not be resolved, so no deep
// link can be built. Surfaces as 503: the caller should retry later.
var ErrBotUnavailable = errors.New("telegram bot username unavailable")

// BotIdentity resolves the bot username used in deep links.
type BotIdentity interface {
	Username(ctx context.Context) (string, error)
}

// Link is the result of issuing a subscribe deep link.
type Link struct {
	Token       string
	Topic       string
	BotUsername string
	StartParam  string
	DeepLinkURL string
	ExpiresAt   time.Time
}

// Service issues deep links through the registry.
type Service struct {
	registry *registry.Registry
	bot      BotIdentity
}

// NewService creates a subscribe service.
func NewService(reg *registry.Registry, bot BotIdentity) *Service {
	return &Service{registry: reg, bot: bot}
}

// Issue creates a pending subscription for topic and builds the Telegram
// deep link carrying its one-time token. The username is resolved before any
// state is written, so a failed resolution leaves no pending record behind.
func (s *Service) Issue(ctx context.Context, topic string) (Link, error) {
	username, err := s.bot.Username(ctx)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %w", ErrBotUnavailable, err)
	}

	pending, err := s.registry.CreatePending(ctx, topic)
	if err != nil {
		return Link{}, err
	}

	startParam := domain.StartPrefix + pending.Token
	return Link{
		Token:       pending.Token,
		Topic:       pending.Topic,
		BotUsername: username,
		StartParam:  startParam,
		DeepLinkURL: fmt.Sprintf("https://t.me/%s?start=%s", username, startParam),
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// Status reports a token's state. Accepts either the bare token or the full
// start parameter as it appears in the deep link.
func (s *Service) Status(ctx context.Context, token string) (domain.LinkStatus, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), domain.StartPrefix)
	if token == "" {
		return domain.LinkStatus{State: domain.LinkStateUnknown}, nil
	}
	return s.registry.LinkStatus(ctx, token)
}

// Topics returns the configured topic allow-list.
func (s *Service) Topics() []string {
	return s.registry.Topics()
}
