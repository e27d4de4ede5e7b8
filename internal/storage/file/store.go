// Package file implements storage.Store on top of local JSON documents.
//
// Keys are namespaced as "<ns>:<rest>"; each namespace maps to one document
// in the data directory (pending subscriptions and confirmed subscriptions),
// so the on-disk layout stays inspectable with plain tools. Writes replace
// the whole document atomically via a temp file and rename.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/techdigest/subscriptions/internal/storage"
)

var documents = map[string]string{
	"pending": "pending_subscriptions.json",
	"sub":     "subscriptions.json",
}

// entry is the persisted envelope around a record. ExpiresAt is a unix
// timestamp; zero means no expiry. Expiry is checked on read and expired
// entries are pruned on the next write of the same document.
type entry struct {
	ExpiresAt int64           `json:"expires_at,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// Store is a file-backed storage.Store. Safe for concurrent use within a
// single process; multi-instance deployments should use the Redis backend.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", storage.ErrUnavailable, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Put implements storage.Store.
func (s *Store) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(key)
	if err != nil {
		return err
	}

	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}

	e := entry{Value: raw}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl).Unix()
	}
	doc[key] = e

	return s.writeDocument(path, doc)
}

// Get implements storage.Store.
func (s *Store) Get(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(key)
	if err != nil {
		return err
	}

	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}

	e, ok := doc[key]
	if !ok || s.expired(e) {
		return storage.ErrNotFound
	}

	if err := json.Unmarshal(e.Value, dest); err != nil {
		return fmt.Errorf("unmarshal record %q: %w", key, err)
	}
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(key)
	if err != nil {
		return err
	}

	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}

	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)

	return s.writeDocument(path, doc)
}

// List implements storage.Store.
func (s *Store) List(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.documentPath(prefix)
	if err != nil {
		return nil, err
	}

	doc, err := s.readDocument(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage)
	for key, e := range doc {
		if strings.HasPrefix(key, prefix) && !s.expired(e) {
			out[key] = e.Value
		}
	}
	return out, nil
}

// Ping implements storage.Store by checking the data directory is writable.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) expired(e entry) bool {
	return e.ExpiresAt > 0 && e.ExpiresAt <= s.now().Unix()
}

func (s *Store) documentPath(key string) (string, error) {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		ns = key
	}
	ns = strings.TrimSuffix(ns, ":")
	name, ok := documents[ns]
	if !ok {
		return "", fmt.Errorf("unknown key namespace %q", ns)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) readDocument(path string) (map[string]entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", storage.ErrUnavailable, filepath.Base(path), err)
	}

	doc := make(map[string]entry)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", storage.ErrUnavailable, filepath.Base(path), err)
	}
	return doc, nil
}

// writeDocument prunes expired entries and replaces the document atomically.
func (s *Store) writeDocument(path string, doc map[string]entry) error {
	for key, e := range doc {
		if s.expired(e) {
			delete(doc, key)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", storage.ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", storage.ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", storage.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", storage.ErrUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", storage.ErrUnavailable, filepath.Base(path), err)
	}
	return nil
}
