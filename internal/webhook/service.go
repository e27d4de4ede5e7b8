// Package webhook processes inbound Telegram updates: it verifies the shared
// webhook secret, parses /start deep-link payloads and dispatches the small
// closed set of management commands.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/techdigest/subscriptions/internal/domain"
	"github.com/techdigest/subscriptions/internal/pkg/ctxlog"
	"github.com/techdigest/subscriptions/internal/registry"
)

const welcomeText = "Welcome. To subscribe, open the topic page and tap Subscribe on Telegram.\n" +
	"Commands: /topics, /unsubscribe <topic>, /unsubscribe_all"

// ReplySender sends in-chat replies to the user.
type ReplySender interface {
	SendText(ctx context.Context, chatID int64, text string, disablePreview bool) error
}

// Service dispatches webhook updates against the registry. Every branch is
// idempotent under exact replay, so Telegram's at-least-once redelivery needs
// no deduplication on top.
type Service struct {
	registry *registry.Registry
	sender   ReplySender
}

// NewService creates a webhook service.
func NewService(reg *registry.Registry, sender ReplySender) *Service {
	return &Service{registry: reg, sender: sender}
}

// Process handles one Telegram update. Unrelated traffic is ignored without
// a reply; only storage failures propagate, so Telegram retries exactly the
// updates whose effects may not have been persisted.
func (s *Service) Process(ctx context.Context, update *models.Update) error {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat.ID == 0 {
		return nil
	}

	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	command, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)

	switch command {
	case "/start":
		return s.handleStart(ctx, chatID, profileFrom(msg), args)
	case "/topics":
		return s.handleTopics(ctx, chatID)
	case "/unsubscribe":
		return s.handleUnsubscribe(ctx, chatID, args)
	case "/unsubscribe_all":
		return s.handleUnsubscribeAll(ctx, chatID)
	default:
		// This endpoint also receives unrelated bot traffic.
		return nil
	}
}

func (s *Service) handleStart(ctx context.Context, chatID int64, profile domain.ChatProfile, args string) error {
	if args == "" {
		s.reply(ctx, chatID, welcomeText)
		return nil
	}
	if !strings.HasPrefix(args, domain.StartPrefix) {
		return nil
	}
	token := strings.TrimSpace(strings.TrimPrefix(args, domain.StartPrefix))
	if token == "" {
		return nil
	}

	topic, err := s.registry.Confirm(ctx, token, chatID, profile)
	if errors.Is(err, registry.ErrInvalidOrExpiredToken) {
		s.reply(ctx, chatID, "This subscribe link is invalid or expired. Please generate a new one from the website.")
		return nil
	}
	if err != nil {
		return err
	}

	s.reply(ctx, chatID, fmt.Sprintf("Subscribed successfully. You will now receive alerts for: %s", topic))
	return nil
}

func (s *Service) handleTopics(ctx context.Context, chatID int64) error {
	topics, err := s.registry.ListTopics(ctx, chatID)
	if err != nil {
		return err
	}

	if len(topics) == 0 {
		s.reply(ctx, chatID, "You are not subscribed to any topics yet.")
		return nil
	}
	s.reply(ctx, chatID, "You are subscribed to: "+strings.Join(topics, ", "))
	return nil
}

func (s *Service) handleUnsubscribe(ctx context.Context, chatID int64, args string) error {
	switch {
	case args == "":
		s.reply(ctx, chatID, "Usage: /unsubscribe <topic> or /unsubscribe_all")
		return nil
	case strings.EqualFold(args, "all"):
		return s.handleUnsubscribeAll(ctx, chatID)
	}

	topic := strings.ToLower(args)
	if !domain.TopicPattern.MatchString(topic) {
		s.reply(ctx, chatID, "Topic format is invalid. Use lowercase letters, numbers, and hyphens.")
		return nil
	}

	removed, err := s.registry.Remove(ctx, chatID, topic)
	if err != nil && !errors.Is(err, registry.ErrUnknownTopic) {
		return err
	}

	if removed {
		s.reply(ctx, chatID, "Unsubscribed from: "+topic)
	} else {
		s.reply(ctx, chatID, "You are not subscribed to: "+topic)
	}
	return nil
}

func (s *Service) handleUnsubscribeAll(ctx context.Context, chatID int64) error {
	count, err := s.registry.RemoveAll(ctx, chatID)
	if err != nil {
		return err
	}

	switch count {
	case 0:
		s.reply(ctx, chatID, "You are not subscribed to any topics.")
	case 1:
		s.reply(ctx, chatID, "Unsubscribed from 1 topic.")
	default:
		s.reply(ctx, chatID, fmt.Sprintf("Unsubscribed from all %d topics.", count))
	}
	return nil
}

// reply is best-effort: Telegram redelivers the update if we fail the
// request, and the registry operations are idempotent, so a lost reply never
// loses state.
func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if err := s.sender.SendText(ctx, chatID, text, true); err != nil {
		ctxlog.FromContext(ctx).Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

func profileFrom(msg *models.Message) domain.ChatProfile {
	if msg.From == nil {
		return domain.ChatProfile{}
	}
	return domain.ChatProfile{
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}
}
