package typing

import (
	"context"
	"sync"
)

type statusWrite struct {
	key    string
	typing bool
	fields map[string]any
}

// writeQueue runs writes one at a time in submission order on its own
// goroutine, so callers never wait on the network and a "typing" write can
// never land after the "stopped" write that followed it.
type writeQueue struct {
	mu      sync.Mutex
	pending []statusWrite
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context, w statusWrite)
}

func newWriteQueue(run func(ctx context.Context, w statusWrite)) *writeQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &writeQueue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		run:    run,
	}
	go q.loop()
	return q
}

func (q *writeQueue) enqueue(w statusWrite) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, w)
	q.mu.Unlock()
	q.signal()
}

func (q *writeQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *writeQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.ctx.Done():
				return
			}
			continue
		}
		w := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.run(q.ctx, w)
	}
}

// closeAndWait stops intake and waits for queued writes to finish. When ctx
// ends first, in-flight and queued writes are abandoned.
func (q *writeQueue) closeAndWait(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
