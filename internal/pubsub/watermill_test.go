package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
}

func TestWatermillBridge_TypedRoundTrip(t *testing.T) {
	bus := NewWatermillBridge()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := NewEvent[change]("changes.typingStatus")
	got := make(chan change, 1)
	require.NoError(t, Subscribe(ctx, bus, event, func(ctx context.Context, c change) error {
		got <- c
		return nil
	}))

	require.NoError(t, Publish(ctx, bus, event, change{Collection: "typingStatus", Key: "u1"}))

	select {
	case c := <-got:
		assert.Equal(t, change{Collection: "typingStatus", Key: "u1"}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWatermillBridge_MetadataSurvives(t *testing.T) {
	bus := NewWatermillBridge()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	require.NoError(t, bus.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		got <- msg
		return nil
	}))
	require.NoError(t, bus.Publish(ctx, Message{Topic: "t", Payload: []byte("x"), Metadata: map[string]string{"origin": "test"}}))

	select {
	case msg := <-got:
		assert.Equal(t, "t", msg.Topic)
		assert.Equal(t, []byte("x"), msg.Payload)
		assert.Equal(t, "test", msg.Metadata["origin"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotRedeliver(t *testing.T) {
	bus := NewWatermillBridge()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}))
	require.NoError(t, bus.Publish(ctx, Message{Topic: "t"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
