package chat

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/metrics"
)

// Feed keeps the ordered list of messages for one viewer.
type Feed struct {
	viewerID string
	logger   *slog.Logger
	onChange func([]Item)

	mu       sync.Mutex
	messages []Message
	closed   bool
	unsub    backend.Unsubscribe
}

// WatchFeed subscribes to all messages. onChange (optional) receives the
// full ordered feed after every snapshot and must not block. A failed
// subscription leaves the feed empty.
func WatchFeed(ctx context.Context, b backend.Backend, viewerID string, onChange func([]Item)) *Feed {
	f := &Feed{
		viewerID: viewerID,
		logger:   slog.Default().With("component", "chat_feed", "user_id", viewerID),
		onChange: onChange,
	}
	unsub, err := b.Subscribe(ctx, Collection, nil, f.apply)
	if err != nil {
		metrics.SubscriptionFailures.WithLabelValues(Collection).Inc()
		f.logger.Warn("Message feed subscription failed", "error", err)
		f.apply(nil)
		return f
	}

	f.mu.Lock()
	f.unsub = unsub
	f.mu.Unlock()
	return f
}

func (f *Feed) apply(docs []backend.Document) {
	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, MessageFromDocument(doc))
	}
	SortMessages(messages)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.messages = messages
	onChange := f.onChange
	items := f.itemsLocked()
	f.mu.Unlock()

	metrics.Snapshots.WithLabelValues(Collection).Inc()
	if onChange != nil {
		onChange(items)
	}
}

// SortMessages orders messages oldest first, breaking ties by ID.
func SortMessages(messages []Message) {
	slices.SortStableFunc(messages, func(a, b Message) int {
		if c := a.Timestamp().Compare(b.Timestamp()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Items returns the feed with ownership flags for the viewer.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemsLocked()
}

func (f *Feed) itemsLocked() []Item {
	items := make([]Item, len(f.messages))
	for i, m := range f.messages {
		items[i] = Item{Message: m, Mine: m.UserID == f.viewerID}
	}
	return items
}

// Close ends the subscription. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.messages = nil
	unsub := f.unsub
	f.unsub = nil
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
