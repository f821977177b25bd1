// Package typing coordinates the "who is typing" indicator of a chat view:
// it turns local keystrokes into rate-limited typing records and turns the
// live set of other users' records into a stale-filtered display list.
package typing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/metrics"
)

const (
	// DefaultReannounceInterval is the minimum gap between two "typing" writes
	// while the user keeps typing.
	DefaultReannounceInterval = 1 * time.Second
	// DefaultQuietPeriod is how long after the last keystroke the user stops
	// counting as typing.
	DefaultQuietPeriod = 3 * time.Second
	// DefaultStaleThreshold is the age after which another user's record is
	// ignored even if it still says typing.
	DefaultStaleThreshold = 5 * time.Second

	DefaultWriteTimeout    = 5 * time.Second
	DefaultTeardownTimeout = 2 * time.Second
)

var (
	// ErrSignedOut is returned by Mount when no user is signed in.
	ErrSignedOut = errors.New("typing: no signed-in user")
	// ErrUnmounted is returned by Mount after Unmount.
	ErrUnmounted = errors.New("typing: coordinator was unmounted")
	// ErrInvalidTimings is returned when the stale threshold does not exceed the quiet period.
	ErrInvalidTimings = errors.New("typing: invalid timings")
)

// State is the local user's typing state.
type State int

const (
	Idle State = iota
	Typing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Typing:
		return "typing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithReannounceInterval sets the minimum gap between "typing" writes.
func WithReannounceInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.reannounceInterval = d }
}

// WithQuietPeriod sets the inactivity period after which typing stops.
func WithQuietPeriod(d time.Duration) Option {
	return func(co *Coordinator) { co.quietPeriod = d }
}

// WithStaleThreshold sets the age at which other users' records are ignored.
func WithStaleThreshold(d time.Duration) Option {
	return func(co *Coordinator) { co.staleThreshold = d }
}

// WithWriteTimeout bounds each backend write.
func WithWriteTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.writeTimeout = d }
}

// WithTeardownTimeout bounds how long Unmount waits for pending writes when
// its context has no deadline.
func WithTeardownTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.teardownTimeout = d }
}

// WithOnChange registers a callback that receives the display list after
// every change. It runs on the snapshot delivery goroutine and must not block.
func WithOnChange(fn func([]Entry)) Option {
	return func(co *Coordinator) { co.onChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// Coordinator owns the typing state of one mounted chat view.
type Coordinator struct {
	backend  backend.Backend
	identity identity.Accessor
	clock    clock.Clock
	logger   *slog.Logger
	onChange func([]Entry)

	reannounceInterval time.Duration
	quietPeriod        time.Duration
	staleThreshold     time.Duration
	writeTimeout       time.Duration
	teardownTimeout    time.Duration

	mu            sync.Mutex
	me            identity.User
	mounted       bool
	unmounted     bool
	state         State
	lastAnnounce  time.Time
	cancelExpiry  clock.CancelFunc
	expiryGen     uint64
	records       []Record
	entries       []Entry
	listSeq       uint64
	cancelRecheck clock.CancelFunc
	recheckGen    uint64
	unsubscribe   backend.Unsubscribe
	writes        *writeQueue

	// notifyMu orders onChange calls; a list older than the last one
	// delivered is dropped.
	notifyMu    sync.Mutex
	notifiedSeq uint64
}

// NewCoordinator creates an unmounted coordinator for the user reported by who.
func NewCoordinator(b backend.Backend, who identity.Accessor, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		backend:            b,
		identity:           who,
		clock:              clock.New(),
		logger:             slog.Default().With("component", "typing"),
		reannounceInterval: DefaultReannounceInterval,
		quietPeriod:        DefaultQuietPeriod,
		staleThreshold:     DefaultStaleThreshold,
		writeTimeout:       DefaultWriteTimeout,
		teardownTimeout:    DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.reannounceInterval <= 0 || c.quietPeriod <= 0 {
		return nil, fmt.Errorf("%w: intervals must be positive", ErrInvalidTimings)
	}
	if c.staleThreshold <= c.quietPeriod {
		return nil, fmt.Errorf("%w: stale threshold %s must exceed quiet period %s",
			ErrInvalidTimings, c.staleThreshold, c.quietPeriod)
	}
	return c, nil
}

// Mount starts the write worker and subscribes to other users' typing
// records. A failed subscription is logged and leaves the list empty.
func (c *Coordinator) Mount(ctx context.Context) error {
	me, ok := c.identity()
	if !ok {
		return ErrSignedOut
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.me = me
	c.logger = c.logger.With("user_id", me.ID)
	c.writes = newWriteQueue(c.write)
	c.mu.Unlock()

	filter := backend.Where().Eq(FieldIsTyping, true).Neq(FieldUserID, me.ID)
	unsub, err := c.backend.Subscribe(ctx, Collection, filter, c.OnExternalSnapshot)
	if err != nil {
		metrics.SubscriptionFailures.WithLabelValues(Collection).Inc()
		c.logger.Warn("Typing subscription failed, showing nobody as typing", "error", err)
		c.OnExternalSnapshot(nil)
		return nil
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsubscribe = unsub
	c.mu.Unlock()
	return nil
}

// OnKeystroke records local typing activity. It announces typing when the
// user was idle or the last announcement is older than the re-announce
// interval, and restarts the quiet-period timer either way.
func (c *Coordinator) OnKeystroke() {
	if _, ok := c.identity(); !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return
	}

	now := c.clock.Now()
	if c.state != Typing || now.Sub(c.lastAnnounce) > c.reannounceInterval {
		c.lastAnnounce = now
		c.writes.enqueue(c.statusLocked(true))
	}
	c.state = Typing
	c.armExpiryLocked()
}

// OnComposeCleared stops typing immediately when the draft becomes empty.
func (c *Coordinator) OnComposeCleared() {
	c.stop("compose_cleared")
}

// OnMessageSent stops typing immediately after a send.
func (c *Coordinator) OnMessageSent() {
	c.stop("message_sent")
}

func (c *Coordinator) stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return
	}
	if c.stopLocked() {
		c.logger.Debug("Stopped typing", "reason", reason)
	}
}

func (c *Coordinator) onQuietPeriodElapsed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.expiryGen || !c.activeLocked() {
		return
	}
	c.cancelExpiry = nil
	if c.stopLocked() {
		c.logger.Debug("Stopped typing", "reason", "quiet_period")
	}
}

// stopLocked cancels the expiry timer and, when typing, returns to Idle and
// queues the stop write. It reports whether a write was queued.
func (c *Coordinator) stopLocked() bool {
	c.disarmExpiryLocked()
	if c.state != Typing {
		return false
	}
	c.state = Idle
	if c.writes != nil {
		c.writes.enqueue(c.statusLocked(false))
	}
	return true
}

func (c *Coordinator) armExpiryLocked() {
	c.disarmExpiryLocked()
	gen := c.expiryGen
	c.cancelExpiry = c.clock.ScheduleAfter(c.quietPeriod, func() { c.onQuietPeriodElapsed(gen) })
}

func (c *Coordinator) disarmExpiryLocked() {
	if c.cancelExpiry != nil {
		c.cancelExpiry()
		c.cancelExpiry = nil
	}
	c.expiryGen++
}

func (c *Coordinator) activeLocked() bool {
	return c.mounted && !c.unmounted
}

func (c *Coordinator) statusLocked(typing bool) statusWrite {
	return statusWrite{
		key:    c.me.ID,
		typing: typing,
		fields: map[string]any{
			FieldUserID:     c.me.ID,
			FieldName:       c.me.Name(),
			FieldAvatar:     c.me.Avatar(),
			FieldIsTyping:   typing,
			FieldLastUpdate: backend.ServerTimestamp,
		},
	}
}

func (c *Coordinator) write(ctx context.Context, w statusWrite) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	err := c.backend.Upsert(ctx, Collection, w.key, w.fields, true)
	metrics.TypingWrites.WithLabelValues(strconv.FormatBool(w.typing), metrics.Result(err)).Inc()
	if err != nil {
		c.logger.Warn("Typing status write failed", "is_typing", w.typing, "error", err)
	}
}

// OnExternalSnapshot replaces the set of other users' typing records. Only
// records that say typing and are younger than the stale threshold are
// shown, in snapshot order. Snapshots arriving after Unmount are dropped.
func (c *Coordinator) OnExternalSnapshot(docs []backend.Document) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, RecordFromDocument(doc))
	}
	c.records = records
	entries, seq := c.refilterLocked()
	c.mu.Unlock()

	metrics.Snapshots.WithLabelValues(Collection).Inc()
	c.notify(seq, entries)
}

// notify hands entries to the change callback unless a newer list has
// already been delivered. Lists are computed under c.mu but delivered
// outside it, so a recheck and a snapshot can race to get here.
func (c *Coordinator) notify(seq uint64, entries []Entry) {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notifiedSeq {
		return
	}
	c.notifiedSeq = seq
	c.onChange(entries)
}

// refilterLocked recomputes the display list from the last snapshot and
// schedules a recheck for when the freshest shown record goes stale, so a
// writer that vanished without clearing its record drops off without
// waiting for another snapshot.
func (c *Coordinator) refilterLocked() ([]Entry, uint64) {
	now := c.clock.Now()
	entries := make([]Entry, 0, len(c.records))
	var nextExpiry time.Time
	for _, r := range c.records {
		if !r.Fresh(now, c.staleThreshold) {
			continue
		}
		entries = append(entries, r.Entry())
		if at := r.LastUpdate.Add(c.staleThreshold); nextExpiry.IsZero() || at.Before(nextExpiry) {
			nextExpiry = at
		}
	}
	c.entries = entries
	c.listSeq++

	if c.cancelRecheck != nil {
		c.cancelRecheck()
		c.cancelRecheck = nil
	}
	c.recheckGen++
	if !nextExpiry.IsZero() {
		gen := c.recheckGen
		c.cancelRecheck = c.clock.ScheduleAfter(nextExpiry.Sub(now), func() { c.recheck(gen) })
	}
	return slices.Clone(entries), c.listSeq
}

func (c *Coordinator) recheck(gen uint64) {
	c.mu.Lock()
	if gen != c.recheckGen || c.unmounted {
		c.mu.Unlock()
		return
	}
	c.cancelRecheck = nil
	before := len(c.entries)
	entries, seq := c.refilterLocked()
	c.mu.Unlock()

	if len(entries) != before {
		c.notify(seq, entries)
	}
}

// TypingUsers returns the current display list.
func (c *Coordinator) TypingUsers() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// IndicatorText renders the current display list.
func (c *Coordinator) IndicatorText() string {
	return IndicatorText(c.TypingUsers())
}

// State returns the local typing state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unmount releases the coordinator. When the user was typing a final stop
// write is queued, and pending writes get until ctx ends (or the teardown
// timeout when ctx has no deadline) to finish. It is safe to call more than
// once and never fails.
func (c *Coordinator) Unmount(ctx context.Context) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.unmounted = true
	if c.cancelRecheck != nil {
		c.cancelRecheck()
		c.cancelRecheck = nil
	}
	c.recheckGen++
	c.entries = nil
	c.records = nil
	unsub := c.unsubscribe
	c.unsubscribe = nil
	queue := c.writes
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if queue == nil {
		return
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.teardownTimeout)
		defer cancel()
	}
	if err := queue.closeAndWait(ctx); err != nil {
		c.logger.Warn("Abandoned pending typing writes on unmount", "error", err)
	}
}
