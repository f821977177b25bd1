package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/metrics"
)

// Roster keeps the live list of online users.
type Roster struct {
	logger   *slog.Logger
	onChange func([]Record)

	mu     sync.Mutex
	users  []Record
	closed bool
	unsub  backend.Unsubscribe
}

// WatchRoster subscribes to online users. onChange (optional) receives the
// list after every snapshot and must not block. A failed subscription is
// logged and yields an empty roster rather than an error.
func WatchRoster(ctx context.Context, b backend.Backend, onChange func([]Record)) *Roster {
	r := &Roster{
		logger:   slog.Default().With("component", "roster"),
		onChange: onChange,
	}
	unsub, err := b.Subscribe(ctx, Collection, backend.Where().Eq(FieldIsOnline, true), r.apply)
	if err != nil {
		metrics.SubscriptionFailures.WithLabelValues(Collection).Inc()
		r.logger.Warn("Roster subscription failed, showing nobody online", "error", err)
		r.apply(nil)
		return r
	}

	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()
	return r
}

func (r *Roster) apply(docs []backend.Document) {
	users := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec := RecordFromDocument(doc)
		if rec.IsOnline {
			users = append(users, rec)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.users = users
	onChange := r.onChange
	r.mu.Unlock()

	metrics.Snapshots.WithLabelValues(Collection).Inc()
	if onChange != nil {
		onChange(slices.Clone(users))
	}
}

// Online returns the current online users in snapshot order.
func (r *Roster) Online() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.users)
}

// Close ends the subscription. Safe to call more than once.
func (r *Roster) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.users = nil
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
