// Package redisfeed implements backend.Backend on Redis. Each document is a
// hash of JSON-encoded fields, a sorted set keeps insertion order, and every
// write publishes the document key on the collection's change channel.
package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the feed writes.
const DefaultPrefix = "parley"

// serverTimeMarker stands in for backend.ServerTimestamp in script
// arguments. It is not valid JSON so it cannot collide with a field value.
const serverTimeMarker = "@now"

// upsertScript applies a write atomically and announces it.
//
// KEYS: document hash, order index, sequence counter, change channel.
// ARGV: merge flag, document key, then field/value pairs.
var upsertScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tostring(tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000))
if ARGV[1] == '0' then
  redis.call('DEL', KEYS[1])
end
for i = 3, #ARGV, 2 do
  local v = ARGV[i + 1]
  if v == '@now' then
    v = now
  end
  redis.call('HSET', KEYS[1], ARGV[i], v)
end
if not redis.call('ZSCORE', KEYS[2], ARGV[2]) then
  redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), ARGV[2])
end
redis.call('PUBLISH', KEYS[4], ARGV[2])
return 1
`)

// Feed is a Redis document store.
type Feed struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*subscription
}

var _ backend.Backend = (*Feed)(nil)

// Option configures a Feed.
type Option func(*Feed)

// WithPrefix changes the key namespace.
func WithPrefix(prefix string) Option {
	return func(f *Feed) { f.prefix = prefix }
}

// Dial connects to the Redis server at addr and verifies it responds.
func Dial(ctx context.Context, addr string, opts ...Option) (*Feed, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client. The feed owns the client from then on.
func New(client *redis.Client, opts ...Option) *Feed {
	f := &Feed{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default().With("component", "redisfeed"),
		subs:   make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) docKey(collection, key string) string {
	return fmt.Sprintf("%s:%s:doc:%s", f.prefix, collection, key)
}

func (f *Feed) indexKey(collection string) string {
	return fmt.Sprintf("%s:%s:index", f.prefix, collection)
}

func (f *Feed) seqKey(collection string) string {
	return fmt.Sprintf("%s:%s:seq", f.prefix, collection)
}

func (f *Feed) channel(collection string) string {
	return fmt.Sprintf("%s:%s:changes", f.prefix, collection)
}

// encodeArgs builds the script arguments for a write.
func encodeArgs(key string, fields map[string]any, merge bool) ([]any, error) {
	flag := "0"
	if merge {
		flag = "1"
	}
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, flag, key)
	for name, v := range fields {
		if backend.IsServerTimestamp(v) {
			args = append(args, name, serverTimeMarker)
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UnixMilli()
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", name, err)
		}
		args = append(args, name, string(raw))
	}
	return args, nil
}

// decodeFields reverses encodeArgs. Timestamps come back as unix
// milliseconds, which backend.Time understands.
func decodeFields(raw map[string]string) map[string]any {
	fields := make(map[string]any, len(raw))
	for name, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		fields[name] = v
	}
	return fields
}

// Upsert implements backend.Backend.
func (f *Feed) Upsert(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	if err := backend.ValidateWrite(collection, key, fields); err != nil {
		return err
	}
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return backend.ErrClosed
	}

	args, err := encodeArgs(key, fields, merge)
	if err != nil {
		return err
	}
	keys := []string{f.docKey(collection, key), f.indexKey(collection), f.seqKey(collection), f.channel(collection)}
	if err := upsertScript.Run(ctx, f.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis upsert %s/%s: %w", collection, key, err)
	}
	return nil
}

// load reads every document of collection in insertion order and keeps
// the ones matching filter.
func (f *Feed) load(ctx context.Context, collection string, filter backend.Filter) ([]backend.Document, error) {
	keys, err := f.client.ZRange(ctx, f.indexKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []backend.Document{}, nil
	}

	pipe := f.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, f.docKey(collection, key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	docs := make([]backend.Document, 0, len(keys))
	for i, cmd := range cmds {
		fields := decodeFields(cmd.Val())
		if filter.Match(fields) {
			docs = append(docs, backend.Document{Key: keys[i], Fields: fields})
		}
	}
	return docs, nil
}

// Subscribe implements backend.Backend. Each change notification triggers
// a reload of the collection; notifications that pile up while a reload
// runs are coalesced into one.
func (f *Feed) Subscribe(ctx context.Context, collection string, filter backend.Filter, onSnapshot backend.SnapshotHandler) (backend.Unsubscribe, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, backend.ErrClosed
	}
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	ps := f.client.Subscribe(ctx, f.channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", collection, err)
	}

	docs, err := f.load(ctx, collection, filter)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis load %s: %w", collection, err)
	}

	s := &subscription{
		feed:       f,
		id:         id,
		collection: collection,
		filter:     filter,
		onSnapshot: onSnapshot,
		ps:         ps,
	}
	s.deliver(docs)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		s.stop()
		return nil, backend.ErrClosed
	}
	f.subs[id] = s
	f.mu.Unlock()

	go s.run(ps.ChannelWithSubscriptions())
	return s.unsubscribe, nil
}

// Close delivers an empty snapshot to every open subscription and closes
// the client.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	clear(f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		s.lose()
	}
	return f.client.Close()
}

type subscription struct {
	feed       *Feed
	id         uint64
	collection string
	filter     backend.Filter
	onSnapshot backend.SnapshotHandler
	ps         *redis.PubSub

	deliverMu sync.Mutex
	stopped   atomic.Bool
	once      sync.Once
}

func (s *subscription) deliver(docs []backend.Document) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped.Load() {
		return
	}
	s.onSnapshot(docs)
}

// run reloads the collection for every change notification. go-redis
// reconnects a dropped PubSub on its own and confirms the subscription
// again; notifications published in between are lost, so a confirmation
// forces a reload, and a failed reload at that point counts as a lost
// subscription.
func (s *subscription) run(events <-chan any) {
	for {
		ev, ok := <-events
		if !ok {
			if !s.stopped.Load() {
				s.feed.logger.Warn("Change channel closed, delivering empty snapshot", "collection", s.collection)
				s.lose()
			}
			return
		}
		resync := isResubscribed(ev)
		// Coalesce whatever else is already queued.
	drain:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break drain
				}
				resync = resync || isResubscribed(ev)
			default:
				break drain
			}
		}
		if resync {
			s.feed.logger.Info("Change channel resubscribed, reloading", "collection", s.collection)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		docs, err := s.feed.load(ctx, s.collection, s.filter)
		cancel()
		if err != nil {
			if s.stopped.Load() {
				return
			}
			if resync {
				s.feed.logger.Warn("Failed to reload after reconnect, delivering empty snapshot", "collection", s.collection, "error", err)
				s.lose()
				return
			}
			s.feed.logger.Warn("Failed to reload collection", "collection", s.collection, "error", err)
			continue
		}
		s.deliver(docs)
	}
}

func isResubscribed(ev any) bool {
	sub, ok := ev.(*redis.Subscription)
	return ok && sub.Kind == "subscribe"
}

// lose delivers the final empty snapshot and stops the subscription.
func (s *subscription) lose() {
	s.deliverMu.Lock()
	if s.stopped.CompareAndSwap(false, true) {
		s.onSnapshot([]backend.Document{})
	}
	s.deliverMu.Unlock()
	s.stop()
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		_ = s.ps.Close()
	})
}

func (s *subscription) unsubscribe() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
	s.stop()
}
