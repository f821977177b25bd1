package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/chatroom"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/middleware"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/rendering"
	"github.com/nfrund/parley/internal/typing"
)

// shutdownTimeout bounds graceful shutdown when the caller's context has
// already ended.
const shutdownTimeout = 10 * time.Second

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	Cfg      config.Provider
	Backend  backend.Backend
	Presence *presence.Service

	renderer *rendering.UniversalRenderer
	validate *validator.Validate
	roomDeps chatroom.Deps

	// views tracks open websocket chat views; closing is canceled on Shutdown.
	views     sync.WaitGroup
	closing   context.Context
	stopViews context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the clock used by chat views and presence.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.roomDeps.Clock = c }
}

// New builds the echo instance with middleware and routes. The backend is
// owned by the caller.
func New(cfg config.Provider, b backend.Backend, opts ...Option) *Server {
	s := &Server{
		Cfg:      cfg,
		Backend:  b,
		renderer: rendering.NewUniversalRenderer(),
		validate: validator.New(),
	}
	s.closing, s.stopViews = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	if s.roomDeps.Clock == nil {
		s.roomDeps.Clock = clock.New()
	}

	s.Presence = presence.NewService(b,
		presence.WithClock(s.roomDeps.Clock),
		presence.WithOfflineDebounce(cfg.GetPresenceOfflineDebounce()),
		presence.WithWriteTimeout(cfg.GetWriteTimeout()),
	)

	timings := cfg.GetTyping()
	s.roomDeps.Backend = b
	s.roomDeps.Presence = s.Presence
	s.roomDeps.Renderer = s.renderer
	s.roomDeps.TypingOptions = []typing.Option{
		typing.WithReannounceInterval(timings.ReannounceInterval),
		typing.WithQuietPeriod(timings.QuietPeriod),
		typing.WithStaleThreshold(timings.StaleThreshold),
		typing.WithWriteTimeout(cfg.GetWriteTimeout()),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = s.renderer
	setupErrorHandling(e)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)

	store := sessions.NewCookieStore([]byte(cfg.GetSessionSecret()))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	e.Use(session.Middleware(store))

	s.E = e
	s.RegisterRoutes()
	return s
}

// setupErrorHandling logs unhandled errors with a stack trace before the
// default handler writes the response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// Run serves on the configured address until ctx ends, then shuts down
// gracefully and marks every connected user offline.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.Cfg.GetServerAddr())
		if err := s.E.Start(s.Cfg.GetServerAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes open connections and writes
// offline presence for whoever was still connected.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.E.Shutdown(ctx)

	s.stopViews()
	done := make(chan struct{})
	go func() {
		s.views.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timed out waiting for chat views to close")
	}

	s.Presence.Shutdown(ctx)
	slog.Info("HTTP server stopped")
	return err
}
