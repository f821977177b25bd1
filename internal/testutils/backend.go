package testutils

import (
	"context"
	"maps"
	"sync"

	"github.com/nfrund/parley/internal/backend"
)

// Write is one Upsert call recorded by FakeBackend.
type Write struct {
	Collection string
	Key        string
	Fields     map[string]any
	Merge      bool
}

// FakeSubscription is a subscription opened against FakeBackend.
type FakeSubscription struct {
	Collection string
	Filter     backend.Filter

	backend *FakeBackend
	handler backend.SnapshotHandler
	closed  bool
}

// Push delivers docs to the subscription as if the store had sent them.
// Nothing is delivered once the subscription was closed.
func (s *FakeSubscription) Push(docs ...backend.Document) {
	s.backend.mu.Lock()
	closed := s.closed
	s.backend.mu.Unlock()
	if closed {
		return
	}
	if docs == nil {
		docs = []backend.Document{}
	}
	s.handler(docs)
}

// Closed reports whether the subscription's unsubscribe handle ran.
func (s *FakeSubscription) Closed() bool {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.closed
}

// FakeBackend records writes and hands control of snapshots to the test.
type FakeBackend struct {
	mu           sync.Mutex
	writes       []Write
	subs         []*FakeSubscription
	writeErr     error
	subscribeErr error
	block        chan struct{}
	closed       bool
}

var _ backend.Backend = (*FakeBackend)(nil)

// NewFakeBackend returns an empty fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// FailWrites makes every following Upsert return err (nil restores success).
func (f *FakeBackend) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// FailSubscribe makes every following Subscribe return err.
func (f *FakeBackend) FailSubscribe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

// BlockWrites holds every following Upsert until the returned func is
// called or the write's context ends.
func (f *FakeBackend) BlockWrites() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.block == ch {
				f.block = nil
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *FakeBackend) Upsert(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := backend.ValidateWrite(collection, key, fields); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, Write{Collection: collection, Key: key, Fields: maps.Clone(fields), Merge: merge})
	return f.writeErr
}

func (f *FakeBackend) Subscribe(ctx context.Context, collection string, filter backend.Filter, onSnapshot backend.SnapshotHandler) (backend.Unsubscribe, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		err := f.subscribeErr
		f.mu.Unlock()
		return nil, err
	}
	sub := &FakeSubscription{Collection: collection, Filter: filter, backend: f, handler: onSnapshot}
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.closed = true
	}, nil
}

func (f *FakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Writes returns every recorded write, including failed ones.
func (f *FakeBackend) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// WritesTo returns the recorded writes for one collection.
func (f *FakeBackend) WritesTo(collection string) []Write {
	var out []Write
	for _, w := range f.Writes() {
		if w.Collection == collection {
			out = append(out, w)
		}
	}
	return out
}

// Subscription returns the most recent subscription on collection, or nil.
func (f *FakeBackend) Subscription(collection string) *FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		if f.subs[i].Collection == collection {
			return f.subs[i]
		}
	}
	return nil
}
