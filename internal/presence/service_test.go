package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ada = identity.User{ID: "u1", DisplayName: "Ada"}

func onlineValues(store *testutils.FakeBackend) []bool {
	var out []bool
	for _, w := range store.WritesTo(Collection) {
		out = append(out, w.Fields[FieldIsOnline].(bool))
	}
	return out
}

func TestService_EnterAndExit(t *testing.T) {
	store := testutils.NewFakeBackend()
	svc := NewService(store)
	ctx := context.Background()

	assert.Equal(t, StatusOffline, svc.Status("u1"))

	svc.Enter(ctx, ada, "view-1")
	assert.Equal(t, StatusOnline, svc.Status("u1"))

	svc.Exit(ctx, "u1", "view-1")
	assert.Equal(t, StatusOffline, svc.Status("u1"))

	assert.Equal(t, []bool{true, false}, onlineValues(store))
	w := store.WritesTo(Collection)[0]
	assert.Equal(t, "u1", w.Key)
	assert.True(t, w.Merge)
	assert.Equal(t, "Ada", w.Fields[FieldName])
	assert.True(t, backend.IsServerTimestamp(w.Fields[FieldLastSeen]))
}

func TestService_MultipleViewsWriteOnce(t *testing.T) {
	store := testutils.NewFakeBackend()
	svc := NewService(store)
	ctx := context.Background()

	svc.Enter(ctx, ada, "tab-1")
	svc.Enter(ctx, ada, "tab-2")
	svc.Exit(ctx, "u1", "tab-1")
	assert.Equal(t, StatusOnline, svc.Status("u1"))
	assert.Equal(t, []bool{true}, onlineValues(store))

	svc.Exit(ctx, "u1", "tab-2")
	assert.Equal(t, []bool{true, false}, onlineValues(store))

	// Unknown user and repeated exit are no-ops.
	svc.Exit(ctx, "u1", "tab-2")
	svc.Exit(ctx, "nobody", "x")
	assert.Len(t, store.Writes(), 2)
}

func TestService_OfflineDebounce(t *testing.T) {
	store := testutils.NewFakeBackend()
	clk := testutils.NewManualClock(time.Now())
	svc := NewService(store, WithClock(clk), WithOfflineDebounce(5*time.Second))
	ctx := context.Background()

	svc.Enter(ctx, ada, "tab-1")
	svc.Exit(ctx, "u1", "tab-1")
	assert.Equal(t, []bool{true}, onlineValues(store), "offline write waits for the debounce")

	// A reload within the window keeps the user online without new writes.
	clk.Advance(2 * time.Second)
	svc.Enter(ctx, ada, "tab-2")
	clk.Advance(10 * time.Second)
	assert.Equal(t, []bool{true}, onlineValues(store))

	svc.Exit(ctx, "u1", "tab-2")
	clk.Advance(5 * time.Second)
	assert.Equal(t, []bool{true, false}, onlineValues(store))
}

func TestService_WriteFailureIsSwallowed(t *testing.T) {
	store := testutils.NewFakeBackend()
	store.FailWrites(errors.New("unavailable"))
	svc := NewService(store)

	svc.Enter(context.Background(), ada, "tab-1")
	assert.Equal(t, StatusOnline, svc.Status("u1"))
}

func TestService_ShutdownMarksEveryoneOffline(t *testing.T) {
	store := testutils.NewFakeBackend()
	clk := testutils.NewManualClock(time.Now())
	svc := NewService(store, WithClock(clk), WithOfflineDebounce(time.Second))
	ctx := context.Background()

	svc.Enter(ctx, ada, "tab-1")
	svc.Enter(ctx, identity.User{ID: "u2"}, "tab-2")
	svc.Shutdown(ctx)
	svc.Shutdown(ctx)

	assert.ElementsMatch(t, []bool{true, true, false, false}, onlineValues(store))
	assert.Zero(t, clk.Pending())

	svc.Enter(ctx, ada, "tab-3")
	assert.Len(t, store.Writes(), 4)
}

func TestRoster_FollowsSnapshots(t *testing.T) {
	store := testutils.NewFakeBackend()
	var got [][]Record
	r := WatchRoster(context.Background(), store, func(users []Record) { got = append(got, users) })

	sub := store.Subscription(Collection)
	require.NotNil(t, sub)
	assert.Equal(t, backend.Where().Eq(FieldIsOnline, true), sub.Filter)

	sub.Push(
		backend.Document{Key: "u1", Fields: map[string]any{"uid": "u1", "name": "Ada", "isOnline": true}},
		backend.Document{Key: "u2", Fields: map[string]any{"isOnline": true}},
	)
	online := r.Online()
	require.Len(t, online, 2)
	assert.Equal(t, "Ada", online[0].Name())
	assert.Equal(t, "Anonymous", online[1].Name())
	assert.Equal(t, identity.FallbackAvatar("u2"), online[1].Avatar())
	assert.Len(t, got, 1)

	r.Close()
	r.Close()
	assert.True(t, sub.Closed())
	assert.Empty(t, r.Online())
}

func TestRoster_SubscribeFailureIsEmpty(t *testing.T) {
	store := testutils.NewFakeBackend()
	store.FailSubscribe(errors.New("denied"))

	r := WatchRoster(context.Background(), store, nil)
	assert.Empty(t, r.Online())
	r.Close()
}
