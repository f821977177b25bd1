// Package presence tracks which users have a chat view open. Each user is
// Offline until a view mounts and Online until the last of their views
// unmounts; the state is mirrored to the users collection so every client
// can render the online roster.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/metrics"
)

// DefaultWriteTimeout bounds each presence write.
const DefaultWriteTimeout = 5 * time.Second

// Option is a function that configures a Service.
type Option func(*Service)

// WithOfflineDebounce delays the offline write after a user's last view
// closes, so a page reload does not flicker the roster. Zero (the default)
// writes immediately.
func WithOfflineDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.offlineDebounceDelay = d
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithWriteTimeout bounds each presence write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.writeTimeout = d
	}
}

type tracked struct {
	user    identity.User
	clients map[string]struct{}
}

// Service tracks online state per user across any number of views.
type Service struct {
	backend backend.Backend
	clock   clock.Clock
	logger  *slog.Logger

	writeTimeout         time.Duration
	offlineDebounceDelay time.Duration

	mu              sync.Mutex
	users           map[string]*tracked         // userID -> open views
	offlineDebounce map[string]clock.CancelFunc // userID -> pending offline write
	closed          bool
}

// NewService creates a presence service writing to b.
func NewService(b backend.Backend, opts ...Option) *Service {
	s := &Service{
		backend:         b,
		clock:           clock.New(),
		logger:          slog.Default().With("service", "presence"),
		writeTimeout:    DefaultWriteTimeout,
		users:           make(map[string]*tracked),
		offlineDebounce: make(map[string]clock.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enter marks user Online on behalf of the view clientID. Only the first
// open view writes, and re-entering during an offline debounce cancels the
// pending offline write without writing again.
func (s *Service) Enter(ctx context.Context, user identity.User, clientID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	cancel, debouncing := s.offlineDebounce[user.ID]
	if debouncing {
		cancel()
		delete(s.offlineDebounce, user.ID)
		s.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", user.ID, "client_id", clientID)
	}

	t, ok := s.users[user.ID]
	if !ok {
		t = &tracked{clients: make(map[string]struct{})}
		s.users[user.ID] = t
	}
	// During a debounce the stored record still says online.
	first := len(t.clients) == 0 && !debouncing
	t.user = user
	t.clients[clientID] = struct{}{}
	s.mu.Unlock()

	if first {
		s.write(ctx, user, true)
	}
}

// Exit releases the view clientID. When it was the user's last view the
// user goes Offline, immediately or after the configured debounce.
func (s *Service) Exit(ctx context.Context, userID, clientID string) {
	s.mu.Lock()
	t, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(t.clients, clientID)
	if len(t.clients) > 0 || s.closed {
		s.mu.Unlock()
		return
	}

	if s.offlineDebounceDelay <= 0 {
		delete(s.users, userID)
		s.mu.Unlock()
		s.write(ctx, t.user, false)
		return
	}

	if cancel, ok := s.offlineDebounce[userID]; ok {
		cancel()
	}
	s.offlineDebounce[userID] = s.clock.ScheduleAfter(s.offlineDebounceDelay, func() {
		s.handleDebouncedOffline(userID)
	})
	s.mu.Unlock()
	s.logger.Debug("Debouncing offline status", "user_id", userID, "debounce_delay", s.offlineDebounceDelay)
}

func (s *Service) handleDebouncedOffline(userID string) {
	s.mu.Lock()
	if _, pending := s.offlineDebounce[userID]; !pending {
		s.mu.Unlock()
		return
	}
	delete(s.offlineDebounce, userID)
	t, ok := s.users[userID]
	if !ok || len(t.clients) > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.users, userID)
	s.mu.Unlock()

	s.write(context.Background(), t.user, false)
}

// Status reports whether userID currently has an open view on this service.
func (s *Service) Status(userID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.users[userID]; ok && len(t.clients) > 0 {
		return StatusOnline
	}
	return StatusOffline
}

// Shutdown cancels pending debounce timers and marks every tracked user
// Offline. Later Enter calls are ignored.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, cancel := range s.offlineDebounce {
		cancel()
	}
	clear(s.offlineDebounce)
	users := make([]identity.User, 0, len(s.users))
	for _, t := range s.users {
		users = append(users, t.user)
	}
	clear(s.users)
	s.mu.Unlock()

	for _, u := range users {
		s.write(ctx, u, false)
	}
	s.logger.Info("Presence service shut down", "users_marked_offline", len(users))
}

// write is best effort: failures are logged and swallowed.
func (s *Service) write(ctx context.Context, user identity.User, online bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	fields := map[string]any{
		FieldUserID:   user.ID,
		FieldName:     user.Name(),
		FieldAvatar:   user.Avatar(),
		FieldIsOnline: online,
		FieldLastSeen: backend.ServerTimestamp,
	}
	err := s.backend.Upsert(ctx, Collection, user.ID, fields, true)

	state := string(StatusOffline)
	if online {
		state = string(StatusOnline)
	}
	metrics.PresenceWrites.WithLabelValues(state, metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Warn("Presence write failed", "user_id", user.ID, "status", state, "error", err)
		return
	}
	s.logger.Debug("Presence updated", "user_id", user.ID, "status", state)
}
