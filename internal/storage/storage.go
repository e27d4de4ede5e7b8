// Package storage defines the key-value persistence contract shared by the
// local file backend and the remote Redis backend. Records are JSON documents
// keyed by namespaced strings; the registry owns key construction.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Storage errors.
var (
	// ErrNotFound is returned by Get when the key is absent or its TTL has
	// passed. Callers must not confuse it with backend failures.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable wraps any backend I/O failure. It maps to a 5xx at the
	// HTTP boundary and is never silently converted to "not found".
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Store is the persistence contract. Both implementations are selected once
// at startup; callers never branch on the backend kind.
type Store interface {
	// Put serializes value as JSON and writes it under key. A zero ttl means
	// the record does not expire.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get reads the record under key into dest. Returns ErrNotFound when the
	// key is absent or expired.
	Get(ctx context.Context, key string, dest any) error

	// Delete removes the record under key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List returns all live records whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
