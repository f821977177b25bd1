package chatroom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/testutils"
	"github.com/nfrund/parley/internal/typing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var me = identity.User{ID: "me", DisplayName: "Me"}

type fragments struct {
	mu  sync.Mutex
	all []string
}

func (f *fragments) sink(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, string(b))
}

func (f *fragments) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.all) == 0 {
		return ""
	}
	return f.all[len(f.all)-1]
}

func (f *fragments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.all)
}

type room struct {
	store *testutils.FakeBackend
	clock *testutils.ManualClock
	out   *fragments
	view  *View
}

func openRoom(t *testing.T) *room {
	t.Helper()
	store := testutils.NewFakeBackend()
	clk := testutils.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	out := &fragments{}

	v, err := Open(context.Background(), Deps{
		Backend:  store,
		Presence: presence.NewService(store),
		Clock:    clk,
	}, me, out.sink)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close(context.Background()) })
	return &room{store: store, clock: clk, out: out, view: v}
}

func TestOpen_MountsEverythingAndRendersInitialState(t *testing.T) {
	r := openRoom(t)

	assert.Equal(t, []bool{true}, onlineWrites(r.store))
	for _, coll := range []string{typing.Collection, chat.Collection, presence.Collection} {
		assert.NotNil(t, r.store.Subscription(coll), coll)
	}

	require.Equal(t, 1, r.out.count())
	initial := r.out.last()
	assert.Contains(t, initial, `id="chat-messages"`)
	assert.Contains(t, initial, `id="online-users"`)
	assert.Contains(t, initial, `id="typing-indicator"`)
	assert.Contains(t, initial, "offline")
}

func TestOpen_SignedOut(t *testing.T) {
	store := testutils.NewFakeBackend()
	_, err := Open(context.Background(), Deps{Backend: store, Presence: presence.NewService(store)}, identity.User{}, func([]byte) {})
	assert.ErrorIs(t, err, typing.ErrSignedOut)
	assert.Empty(t, store.Writes())
}

func TestOpen_InvalidTimingsReleasesPresence(t *testing.T) {
	store := testutils.NewFakeBackend()
	_, err := Open(context.Background(), Deps{
		Backend:       store,
		Presence:      presence.NewService(store),
		TypingOptions: []typing.Option{typing.WithStaleThreshold(time.Second), typing.WithQuietPeriod(3 * time.Second)},
	}, me, func([]byte) {})

	assert.ErrorIs(t, err, typing.ErrInvalidTimings)
	assert.Equal(t, []bool{true, false}, onlineWrites(store))
}

func TestTypingSnapshot_UpdatesIndicatorAndStatus(t *testing.T) {
	r := openRoom(t)

	r.store.Subscription(typing.Collection).Push(backend.Document{Key: "u2", Fields: map[string]any{
		typing.FieldUserID:     "u2",
		typing.FieldName:       "Bob",
		typing.FieldIsTyping:   true,
		typing.FieldLastUpdate: r.clock.Now(),
	}})

	out := r.out.last()
	assert.Contains(t, out, `id="typing-indicator"`)
	assert.Contains(t, out, "Bob is typing...")
	assert.Contains(t, out, `id="chat-status"`)

	// The same list again renders nothing new.
	n := r.out.count()
	r.store.Subscription(typing.Collection).Push(backend.Document{Key: "u2", Fields: map[string]any{
		typing.FieldUserID:     "u2",
		typing.FieldName:       "Bob",
		typing.FieldIsTyping:   true,
		typing.FieldLastUpdate: r.clock.Now(),
	}})
	assert.Equal(t, n, r.out.count())
}

func TestRosterSnapshot_UpdatesOnlineList(t *testing.T) {
	r := openRoom(t)

	r.store.Subscription(presence.Collection).Push(
		backend.Document{Key: "me", Fields: map[string]any{"uid": "me", "name": "Me", "isOnline": true}},
		backend.Document{Key: "u2", Fields: map[string]any{"uid": "u2", "name": "Bob", "isOnline": true}},
	)

	out := r.out.last()
	assert.Contains(t, out, ">Bob<")
	assert.Contains(t, out, "2 online")
}

func TestMessages_AppendNewAndReplaceOnRemoval(t *testing.T) {
	r := openRoom(t)
	sub := r.store.Subscription(chat.Collection)
	m1 := backend.Document{Key: "m1", Fields: map[string]any{"uid": "u2", "name": "Bob", "text": "first", "timestamp": int64(1)}}
	m2 := backend.Document{Key: "m2", Fields: map[string]any{"uid": "me", "name": "Me", "text": "second", "timestamp": int64(2)}}

	sub.Push(m1)
	assert.Contains(t, r.out.last(), `beforeend:#chat-messages`)
	assert.Contains(t, r.out.last(), "first")

	sub.Push(m1, m2)
	out := r.out.last()
	assert.Contains(t, out, `beforeend:#chat-messages`)
	assert.Contains(t, out, "second")
	assert.NotContains(t, out, "first", "only new messages are appended")

	sub.Push()
	out = r.out.last()
	assert.Contains(t, out, `id="chat-messages"`)
	assert.NotContains(t, out, "beforeend")
}

func TestHandle_DraftsDriveTyping(t *testing.T) {
	r := openRoom(t)
	ctx := context.Background()

	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "h"}))
	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "he"}))
	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: ""}))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true, false}, typingWrites(r.store))
	}, time.Second, 5*time.Millisecond)

	t.Run("whitespace while typing stops", func(t *testing.T) {
		r := openRoom(t)
		require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "hi"}))
		require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "   "}))

		assert.Equal(t, typing.Idle, r.view.coordinator.State())
		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]bool{true, false}, typingWrites(r.store))
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("whitespace while idle writes nothing", func(t *testing.T) {
		r := openRoom(t)
		require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: " \t "}))

		assert.Equal(t, typing.Idle, r.view.coordinator.State())
		assert.Never(t, func() bool {
			return len(typingWrites(r.store)) > 0
		}, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestHandle_SubmitSendsAndStopsTyping(t *testing.T) {
	r := openRoom(t)
	ctx := context.Background()

	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "hello"}))
	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputSubmit, Text: "hello"}))

	msgs := r.store.WritesTo(chat.Collection)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Fields[chat.FieldText])
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true, false}, typingWrites(r.store))
	}, time.Second, 5*time.Millisecond)

	err := r.view.Handle(ctx, Input{Kind: InputSubmit, Text: "   "})
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)
}

func TestHandle_SendErrorsAreReturned(t *testing.T) {
	r := openRoom(t)
	r.store.FailWrites(errors.New("unavailable"))

	err := r.view.Handle(context.Background(), Input{Kind: InputSubmit, Text: "hi"})
	assert.Error(t, err)
}

func TestClose_ReleasesInReverseOrder(t *testing.T) {
	r := openRoom(t)
	ctx := context.Background()
	require.NoError(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "x"}))

	r.view.Close(ctx)
	r.view.Close(ctx)

	for _, coll := range []string{typing.Collection, chat.Collection, presence.Collection} {
		assert.True(t, r.store.Subscription(coll).Closed(), coll)
	}
	assert.Equal(t, []bool{true, false}, typingWrites(r.store))
	assert.Equal(t, []bool{true, false}, onlineWrites(r.store))

	n := r.out.count()
	r.store.Subscription(chat.Collection).Push(backend.Document{Key: "late", Fields: map[string]any{"text": "late"}})
	assert.Equal(t, n, r.out.count())
	assert.ErrorIs(t, r.view.Handle(ctx, Input{Kind: InputDraft, Text: "y"}), typing.ErrUnmounted)
}

func TestPage_RendersCurrentState(t *testing.T) {
	r := openRoom(t)
	r.store.Subscription(chat.Collection).Push(backend.Document{Key: "m1", Fields: map[string]any{"uid": "u2", "text": "hey"}})

	var sb strings.Builder
	require.NoError(t, r.view.Page().Render(&sb))
	assert.Contains(t, sb.String(), "hey")
	assert.Contains(t, sb.String(), `ws-connect="/ws"`)
}

func typingWrites(store *testutils.FakeBackend) []bool {
	var out []bool
	for _, w := range store.WritesTo(typing.Collection) {
		out = append(out, w.Fields[typing.FieldIsTyping].(bool))
	}
	return out
}

func onlineWrites(store *testutils.FakeBackend) []bool {
	var out []bool
	for _, w := range store.WritesTo(presence.Collection) {
		out = append(out, w.Fields[presence.FieldIsOnline].(bool))
	}
	return out
}
