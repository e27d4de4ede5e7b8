package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdigest/subscriptions/internal/storage"
)

type record struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := record{Name: "alpha", N: 42}
	require.NoError(t, s.Put(ctx, "pending:tok1", want, 0))

	var got record
	require.NoError(t, s.Get(ctx, "pending:tok1", &got))
	assert.Equal(t, want, got)
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t)

	var got record
	err := s.Get(context.Background(), "pending:missing", &got)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_TTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "pending:tok1", record{Name: "soon-gone"}, time.Minute))

	var got record
	require.NoError(t, s.Get(ctx, "pending:tok1", &got))

	// Past the TTL the record reads as absent.
	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	err := s.Get(ctx, "pending:tok1", &got)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.List(ctx, "pending:")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sub:go:1", record{Name: "x"}, 0))
	require.NoError(t, s.Delete(ctx, "sub:go:1"))

	var got record
	assert.ErrorIs(t, s.Get(ctx, "sub:go:1", &got), storage.ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, "sub:go:1"))
}

func TestStore_ListPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sub:go:1", record{N: 1}, 0))
	require.NoError(t, s.Put(ctx, "sub:go:2", record{N: 2}, 0))
	require.NoError(t, s.Put(ctx, "sub:rust:1", record{N: 3}, 0))

	list, err := s.List(ctx, "sub:go:")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Contains(t, list, "sub:go:1")
	assert.Contains(t, list, "sub:go:2")

	all, err := s.List(ctx, "sub:")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_UnknownNamespace(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(context.Background(), "bogus:key", record{}, 0)
	require.Error(t, err)
}

func TestStore_DocumentLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "pending:tok", record{Name: "p"}, 0))
	require.NoError(t, s.Put(ctx, "sub:go:7", record{Name: "s"}, 0))

	// Pending and confirmed state live in separate inspectable documents.
	for _, name := range []string{"pending_subscriptions.json", "subscriptions.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &doc), name)
		assert.Len(t, doc, 1, name)
	}
}
