package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects snapshots delivered to a subscription.
type recorder struct {
	mu        sync.Mutex
	snapshots [][]backend.Document
}

func (r *recorder) handle(docs []backend.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, docs)
}

func (r *recorder) last() []backend.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func keys(docs []backend.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestStore_UpsertResolvesServerTimestamp(t *testing.T) {
	clk := testutils.NewManualClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	s := New(WithClock(clk))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "typingStatus", "u1", map[string]any{
		"isTyping":   true,
		"lastUpdate": backend.ServerTimestamp,
	}, true))

	doc, ok := s.Get("typingStatus", "u1")
	require.True(t, ok)
	ts, ok := backend.Time(doc.Fields, "lastUpdate")
	require.True(t, ok)
	assert.True(t, clk.Now().Equal(ts))
}

func TestStore_MergeAndReplace(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "users", "u1", map[string]any{"name": "Ada", "isOnline": true}, true))
	require.NoError(t, s.Upsert(ctx, "users", "u1", map[string]any{"isOnline": false}, true))

	doc, _ := s.Get("users", "u1")
	assert.Equal(t, map[string]any{"name": "Ada", "isOnline": false}, doc.Fields)

	require.NoError(t, s.Upsert(ctx, "users", "u1", map[string]any{"isOnline": true}, false))
	doc, _ = s.Get("users", "u1")
	assert.Equal(t, map[string]any{"isOnline": true}, doc.Fields)
}

func TestStore_UpsertValidates(t *testing.T) {
	s := New()
	defer s.Close()

	err := s.Upsert(context.Background(), "bad name", "k", nil, true)
	assert.ErrorIs(t, err, backend.ErrInvalidCollection)
}

func TestStore_SubscribeDeliversFilteredSnapshots(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "typingStatus", "me", map[string]any{"uid": "me", "isTyping": true}, true))
	require.NoError(t, s.Upsert(ctx, "typingStatus", "u2", map[string]any{"uid": "u2", "isTyping": true}, true))

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, "typingStatus", backend.Where().Eq("isTyping", true).Neq("uid", "me"), rec.handle)
	require.NoError(t, err)
	defer unsub()

	require.Equal(t, 1, rec.count(), "initial snapshot is delivered synchronously")
	assert.Equal(t, []string{"u2"}, keys(rec.last()))

	require.NoError(t, s.Upsert(ctx, "typingStatus", "u3", map[string]any{"uid": "u3", "isTyping": true}, true))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"u2", "u3"}, keys(rec.last()))
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Upsert(ctx, "typingStatus", "u2", map[string]any{"isTyping": false}, true))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"u3"}, keys(rec.last()))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStore_UnsubscribeStopsDeliveries(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, "messages", nil, rec.handle)
	require.NoError(t, err)
	unsub()
	unsub()

	require.NoError(t, s.Upsert(ctx, "messages", "m1", map[string]any{"text": "hi"}, false))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestStore_CloseDeliversEmptySnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "users", "u1", map[string]any{"isOnline": true}, true))

	rec := &recorder{}
	_, err := s.Subscribe(ctx, "users", nil, rec.handle)
	require.NoError(t, err)
	require.Len(t, rec.last(), 1)

	require.NoError(t, s.Close())
	assert.Equal(t, 2, rec.count())
	assert.Empty(t, rec.last())

	assert.ErrorIs(t, s.Upsert(ctx, "users", "u1", nil, true), backend.ErrClosed)
	_, err = s.Subscribe(ctx, "users", nil, rec.handle)
	assert.ErrorIs(t, err, backend.ErrClosed)
}
