// Package memory is an in-process Backend. Documents live in maps and
// change notifications travel over the pubsub bus, so every subscription
// sees the same ordering guarantees it would get from a remote store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/pubsub"
)

type change struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
}

func changeEvent(collection string) pubsub.Event[change] {
	return pubsub.NewEvent[change]("changes." + collection)
}

type collection struct {
	order []string
	docs  map[string]map[string]any
}

// Store implements backend.Backend in memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
	subs        map[uint64]func()
	nextSub     uint64

	bus    pubsub.Bus
	ownBus bool
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to resolve server timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithBus publishes change notifications on an existing bus. The caller
// keeps ownership of it.
func WithBus(bus pubsub.Bus) Option {
	return func(s *Store) {
		s.bus = bus
		s.ownBus = false
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		subs:        make(map[uint64]func()),
		clock:       clock.New(),
		logger:      slog.Default().With("component", "memory_backend"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = pubsub.NewWatermillBridge()
		s.ownBus = true
	}
	return s
}

// Upsert implements backend.Backend.
func (s *Store) Upsert(ctx context.Context, coll, key string, fields map[string]any, merge bool) error {
	if err := backend.ValidateWrite(coll, key, fields); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if backend.IsServerTimestamp(v) {
			v = now
		}
		resolved[k] = v
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.ErrClosed
	}
	c := s.collectionLocked(coll)
	existing, ok := c.docs[key]
	switch {
	case !ok:
		c.order = append(c.order, key)
		c.docs[key] = resolved
	case merge:
		maps.Copy(existing, resolved)
	default:
		c.docs[key] = resolved
	}
	s.mu.Unlock()

	if err := pubsub.Publish(ctx, s.bus, changeEvent(coll), change{Collection: coll, Key: key}); err != nil {
		return fmt.Errorf("notify %s change: %w", coll, err)
	}
	return nil
}

// Subscribe implements backend.Backend. The first snapshot is delivered
// before Subscribe returns.
func (s *Store) Subscribe(ctx context.Context, coll string, filter backend.Filter, onSnapshot backend.SnapshotHandler) (backend.Unsubscribe, error) {
	if err := backend.ValidateCollection(coll); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// deliverMu keeps the initial snapshot and notification-driven ones
	// from overlapping.
	var deliverMu sync.Mutex
	deliver := func() {
		deliverMu.Lock()
		defer deliverMu.Unlock()
		if subCtx.Err() != nil {
			return
		}
		onSnapshot(s.snapshot(coll, filter))
	}

	// Each notification re-reads the collection, so a notification handled
	// late still yields the latest state.
	err := pubsub.Subscribe(subCtx, s.bus, changeEvent(coll), func(ctx context.Context, _ change) error {
		deliver()
		return nil
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", coll, err)
	}

	// lost delivers the final empty snapshot when the store goes away
	// underneath a live subscription.
	lost := func() {
		deliverMu.Lock()
		defer deliverMu.Unlock()
		if subCtx.Err() != nil {
			return
		}
		cancel()
		onSnapshot([]backend.Document{})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, backend.ErrClosed
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = lost
	s.mu.Unlock()

	deliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Store) snapshot(coll string, filter backend.Filter) []backend.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[coll]
	if !ok {
		return []backend.Document{}
	}
	docs := make([]backend.Document, 0, len(c.order))
	for _, key := range c.order {
		fields := c.docs[key]
		if filter.Match(fields) {
			docs = append(docs, backend.Document{Key: key, Fields: maps.Clone(fields)})
		}
	}
	return docs
}

// Get returns a copy of a stored document.
func (s *Store) Get(coll, key string) (backend.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll]
	if !ok {
		return backend.Document{}, false
	}
	fields, ok := c.docs[key]
	if !ok {
		return backend.Document{}, false
	}
	return backend.Document{Key: key, Fields: maps.Clone(fields)}, true
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]map[string]any)}
		s.collections[name] = c
	}
	return c
}

// Close rejects further writes, hands every open subscription a final empty
// snapshot and, if the store created its own bus, shuts the bus down.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	lost := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		lost = append(lost, fn)
	}
	clear(s.subs)
	s.mu.Unlock()

	for _, fn := range lost {
		fn()
	}

	if s.ownBus {
		return s.bus.Close()
	}
	return nil
}
