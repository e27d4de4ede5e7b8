// Package notify fans a topic notification out to every confirmed subscriber
// as independent best-effort per-chat deliveries.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/techdigest/subscriptions/internal/pkg/ctxlog"
	"github.com/techdigest/subscriptions/internal/registry"
)

// ErrEmptyPayload means neither text nor audio was supplied.
var ErrEmptyPayload = errors.New("at least one of text or audio_url is required")

const defaultConcurrency = 4

// Sender delivers messages to individual chats.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, disablePreview bool) error
	SendAudio(ctx context.Context, chatID int64, audioURL, caption string) error
}

// Message is the notification payload for one topic.
type Message struct {
	Text                  string
	AudioURL              string
	Caption               string
	DisableWebPagePreview bool
}

// Result aggregates a fan-out: failed chats are collected, never raised.
type Result struct {
	Topic  string  `json:"topic"`
	Sent   int     `json:"sent"`
	Failed []int64 `json:"failed"`
}

// Service performs topic fan-out.
type Service struct {
	registry    *registry.Registry
	sender      Sender
	concurrency int
}

// NewService creates a notify service. concurrency bounds parallel sends to
// stay under Telegram rate limits.
func NewService(reg *registry.Registry, sender Sender, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{registry: reg, sender: sender, concurrency: concurrency}
}

// Notify sends msg to every subscriber of topic. A per-chat failure is
// recorded and never aborts delivery to the remaining chats; there is no
// automatic retry. An unknown topic fails before any send is attempted.
func (s *Service) Notify(ctx context.Context, topic string, msg Message) (Result, error) {
	if msg.Text == "" && msg.AudioURL == "" {
		return Result{}, ErrEmptyPayload
	}

	chats, err := s.registry.ListChats(ctx, topic)
	if err != nil {
		return Result{}, err
	}

	result := Result{Topic: topic, Failed: []int64{}}
	if len(chats) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, chatID := range chats {
		g.Go(func() error {
			err := s.deliver(gctx, chatID, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Blocked bot, dead chat or a transient network error:
				// collected, not raised, so siblings keep going.
				ctxlog.FromContext(ctx).Warn("delivery failed",
					"topic", topic, "chat_id", chatID, "error", err)
				result.Failed = append(result.Failed, chatID)
				recordDelivery("failed")
			} else {
				result.Sent++
				recordDelivery("sent")
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i] < result.Failed[j] })
	return result, nil
}

func (s *Service) deliver(ctx context.Context, chatID int64, msg Message) error {
	if msg.Text != "" {
		if err := s.sender.SendText(ctx, chatID, msg.Text, msg.DisableWebPagePreview); err != nil {
			return err
		}
	}
	if msg.AudioURL != "" {
		if err := s.sender.SendAudio(ctx, chatID, msg.AudioURL, msg.Caption); err != nil {
			return err
		}
	}
	return nil
}

// ListChats exposes the subscriber list for the operational chat-ids
// endpoint.
func (s *Service) ListChats(ctx context.Context, topic string) ([]int64, error) {
	return s.registry.ListChats(ctx, topic)
}
