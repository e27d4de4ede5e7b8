// Package domain contains the core subscription types shared across modules.
package domain

import (
	"regexp"
	"time"
)

// TopicPattern constrains topic slugs: lowercase, digits, hyphens, 2-50 chars.
var TopicPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,49}$`)

// StartPrefix disambiguates subscription deep-link payloads from any other
// /start command space the bot may grow later.
const StartPrefix = "subscribe_"

// LinkState describes the lifecycle of an issued deep link.
type LinkState string

const (
	LinkStatePending   LinkState = "pending"
	LinkStateConfirmed LinkState = "confirmed"
	LinkStateExpired   LinkState = "expired"
	LinkStateUnknown   LinkState = "unknown"
)

// PendingSubscription is an issued-but-unconfirmed deep-link token.
// The record survives confirmation (with State flipped to confirmed) for the
// retention window so the browser status poll can observe the transition;
// the storage TTL removes it afterwards.
type PendingSubscription struct {
	Token     string    `json:"token"`
	Topic     string    `json:"topic"`
	State     LinkState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// ConfirmedChatID binds a consumed token to the chat that consumed it:
	// only that chat may replay the confirmation.
	ConfirmedChatID int64     `json:"confirmed_chat_id,omitempty"`
	ConfirmedAt     time.Time `json:"confirmed_at,omitzero"`
}

// Expired reports whether the link TTL has passed at the given instant.
// A confirmed link never expires back to pending.
func (p PendingSubscription) Expired(now time.Time) bool {
	return p.State == LinkStatePending && !now.Before(p.ExpiresAt)
}

// ChatProfile carries the Telegram account details captured at confirmation.
type ChatProfile struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Subscription is a confirmed (chat_id, topic) pair. The pair is the
// identity: re-confirming overwrites the same record.
type Subscription struct {
	ChatID      int64       `json:"chat_id"`
	Topic       string      `json:"topic"`
	Profile     ChatProfile `json:"profile,omitzero"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
}

// LinkStatus is the browser-facing view of a token's state.
type LinkStatus struct {
	State       LinkState
	Topic       string
	ExpiresAt   time.Time
	ConfirmedAt time.Time
}
