// Package registry is the subscription registry: the single owner and
// mutator of persisted pending and confirmed subscription state. All
// invariants (topic allow-list, token uniqueness, idempotent confirmation)
// are enforced here; handlers never touch storage directly.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/techdigest/subscriptions/internal/domain"
	"github.com/techdigest/subscriptions/internal/storage"
)

// Key namespaces. The key format never leaks to callers; both storage
// backends treat keys as opaque strings.
const (
	pendingKeyPrefix = "pending:"
	subKeyPrefix     = "sub:"
)

// tokenBytes gives 128 bits of entropy, matching secrets.token_urlsafe(16).
const tokenBytes = 16

// Config holds registry settings.
type Config struct {
	// Topics is the allow-list of subscribable topic slugs.
	Topics []string
	// LinkTTL is how long an issued deep link stays confirmable.
	LinkTTL time.Duration
	// LinkRetention is how long a link's status (pending or confirmed)
	// remains queryable after issue; past it the token reads as unknown.
	LinkRetention time.Duration
}

// Registry enforces subscription invariants over a storage.Store.
type Registry struct {
	store         storage.Store
	topics        map[string]struct{}
	topicList     []string
	linkTTL       time.Duration
	linkRetention time.Duration
	now           func() time.Time
}

// New creates a registry. Topics are normalized to lower case; slugs that do
// not match domain.TopicPattern are rejected.
func New(store storage.Store, cfg Config) (*Registry, error) {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	if cfg.LinkRetention < cfg.LinkTTL {
		cfg.LinkRetention = 24 * time.Hour
	}

	topics := make(map[string]struct{}, len(cfg.Topics))
	for _, t := range cfg.Topics {
		slug := strings.ToLower(strings.TrimSpace(t))
		if slug == "" {
			continue
		}
		if !domain.TopicPattern.MatchString(slug) {
			return nil, fmt.Errorf("invalid topic slug %q", t)
		}
		topics[slug] = struct{}{}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	list := make([]string, 0, len(topics))
	for t := range topics {
		list = append(list, t)
	}
	sort.Strings(list)

	return &Registry{
		store:         store,
		topics:        topics,
		topicList:     list,
		linkTTL:       cfg.LinkTTL,
		linkRetention: cfg.LinkRetention,
		now:           time.Now,
	}, nil
}

// Topics returns the configured allow-list, sorted.
func (r *Registry) Topics() []string {
	out := make([]string, len(r.topicList))
	copy(out, r.topicList)
	return out
}

// LinkTTL returns the configured deep-link lifetime.
func (r *Registry) LinkTTL() time.Duration {
	return r.linkTTL
}

// normalizeTopic lowercases topic and checks it against the allow-list.
func (r *Registry) normalizeTopic(topic string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(topic))
	if _, ok := r.topics[slug]; !ok {
		return "", ErrUnknownTopic
	}
	return slug, nil
}

// CreatePending validates the topic, mints a token and records the pending
// subscription. No state is written on failure.
func (r *Registry) CreatePending(ctx context.Context, topic string) (domain.PendingSubscription, error) {
	slug, err := r.normalizeTopic(topic)
	if err != nil {
		return domain.PendingSubscription{}, err
	}

	token, err := newToken()
	if err != nil {
		return domain.PendingSubscription{}, fmt.Errorf("generate token: %w", err)
	}

	now := r.now().UTC()
	pending := domain.PendingSubscription{
		Token:     token,
		Topic:     slug,
		State:     domain.LinkStatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(r.linkTTL),
	}

	// Stored for the full retention window; link expiry is judged from
	// ExpiresAt on read so status can distinguish expired from unknown.
	if err := r.store.Put(ctx, pendingKeyPrefix+token, pending, r.linkRetention); err != nil {
		return domain.PendingSubscription{}, err
	}
	return pending, nil
}

// LinkStatus reports the state of a token without mutating anything.
func (r *Registry) LinkStatus(ctx context.Context, token string) (domain.LinkStatus, error) {
	var pending domain.PendingSubscription
	err := r.store.Get(ctx, pendingKeyPrefix+token, &pending)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.LinkStatus{State: domain.LinkStateUnknown}, nil
	}
	if err != nil {
		return domain.LinkStatus{}, err
	}

	status := domain.LinkStatus{
		State:       pending.State,
		Topic:       pending.Topic,
		ExpiresAt:   pending.ExpiresAt,
		ConfirmedAt: pending.ConfirmedAt,
	}
	if pending.Expired(r.now()) {
		status.State = domain.LinkStateExpired
	}
	return status, nil
}

// Confirm promotes a pending token to a confirmed subscription for chatID.
// The subscription write is keyed on the stable (chat_id, topic) identity and
// happens before the pending record is marked consumed, so a replayed webhook
// converges on the same single record instead of erroring or duplicating.
func (r *Registry) Confirm(ctx context.Context, token string, chatID int64, profile domain.ChatProfile) (string, error) {
	var pending domain.PendingSubscription
	err := r.store.Get(ctx, pendingKeyPrefix+token, &pending)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", err
	}
	if pending.Expired(r.now()) {
		return "", ErrInvalidOrExpiredToken
	}
	// A consumed token belongs to the chat that consumed it: replays from
	// that chat converge, any other chat is rejected.
	if pending.State == domain.LinkStateConfirmed && pending.ConfirmedChatID != chatID {
		return "", ErrInvalidOrExpiredToken
	}

	now := r.now().UTC()
	sub := domain.Subscription{
		ChatID:      chatID,
		Topic:       pending.Topic,
		Profile:     profile,
		ConfirmedAt: now,
	}
	if err := r.store.Put(ctx, subKey(pending.Topic, chatID), sub, 0); err != nil {
		return "", err
	}

	if pending.State != domain.LinkStateConfirmed {
		pending.State = domain.LinkStateConfirmed
		pending.ConfirmedChatID = chatID
		pending.ConfirmedAt = now
		if err := r.store.Put(ctx, pendingKeyPrefix+token, pending, r.linkRetention); err != nil {
			return "", err
		}
	}

	return pending.Topic, nil
}

// ListChats returns every chat id subscribed to topic. A valid topic with no
// subscribers yields an empty slice, not an error.
func (r *Registry) ListChats(ctx context.Context, topic string) ([]int64, error) {
	slug, err := r.normalizeTopic(topic)
	if err != nil {
		return nil, err
	}

	records, err := r.store.List(ctx, subKeyPrefix+slug+":")
	if err != nil {
		return nil, err
	}

	chats := make([]int64, 0, len(records))
	for key := range records {
		id, err := strconv.ParseInt(key[strings.LastIndex(key, ":")+1:], 10, 64)
		if err != nil {
			continue
		}
		chats = append(chats, id)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}

// ListTopics returns the topics a chat currently subscribes to, sorted.
// Topics no longer in the allow-list are still reported so the user can see
// and remove stale subscriptions.
func (r *Registry) ListTopics(ctx context.Context, chatID int64) ([]string, error) {
	subs, err := r.chatSubscriptions(ctx, chatID)
	if err != nil {
		return nil, err
	}

	topics := make([]string, 0, len(subs))
	for _, sub := range subs {
		topics = append(topics, sub.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// Remove deletes the (chatID, topic) subscription. Reports whether a
// subscription existed; removing an absent one is not an error.
func (r *Registry) Remove(ctx context.Context, chatID int64, topic string) (bool, error) {
	slug := strings.ToLower(strings.TrimSpace(topic))
	if !domain.TopicPattern.MatchString(slug) {
		return false, ErrUnknownTopic
	}

	key := subKey(slug, chatID)
	var sub domain.Subscription
	err := r.store.Get(ctx, key, &sub)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := r.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAll deletes every subscription held by chatID and returns how many
// existed beforehand.
func (r *Registry) RemoveAll(ctx context.Context, chatID int64) (int, error) {
	subs, err := r.chatSubscriptions(ctx, chatID)
	if err != nil {
		return 0, err
	}

	for _, sub := range subs {
		if err := r.store.Delete(ctx, subKey(sub.Topic, sub.ChatID)); err != nil {
			return 0, err
		}
	}
	return len(subs), nil
}

// Snapshot returns every confirmed subscription, for inspection endpoints.
func (r *Registry) Snapshot(ctx context.Context) ([]domain.Subscription, error) {
	records, err := r.store.List(ctx, subKeyPrefix)
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(records))
	for key, raw := range records {
		var sub domain.Subscription
		if err := unmarshalSub(key, raw, &sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Topic != subs[j].Topic {
			return subs[i].Topic < subs[j].Topic
		}
		return subs[i].ChatID < subs[j].ChatID
	})
	return subs, nil
}

func (r *Registry) chatSubscriptions(ctx context.Context, chatID int64) ([]domain.Subscription, error) {
	records, err := r.store.List(ctx, subKeyPrefix)
	if err != nil {
		return nil, err
	}

	var subs []domain.Subscription
	for key, raw := range records {
		var sub domain.Subscription
		if err := unmarshalSub(key, raw, &sub); err != nil {
			return nil, err
		}
		if sub.ChatID == chatID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func unmarshalSub(key string, raw []byte, dest *domain.Subscription) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode subscription %q: %w", key, err)
	}
	return nil
}

func subKey(topic string, chatID int64) string {
	return subKeyPrefix + topic + ":" + strconv.FormatInt(chatID, 10)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
