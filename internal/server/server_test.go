package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/parley/internal/backend/memory"
	"github.com/nfrund/parley/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Backend:       config.BackendMemory,
		ServerAddr:    "127.0.0.1:0",
		SessionSecret: "a-very-secret-key-for-testing-!",
		Typing: config.Typing{
			ReannounceInterval: time.Second,
			QuietPeriod:        3 * time.Second,
			StaleThreshold:     5 * time.Second,
		},
		WriteTimeout: 2 * time.Second,
	}
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return New(testConfig(), store), store
}

func TestHTTPErrorHandler_WithStackTrace(t *testing.T) {
	e := echo.New()

	var logBuffer bytes.Buffer
	original := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{AddSource: true})))
	defer slog.SetDefault(original)

	setupErrorHandling(e)
	e.GET("/test-unhandled-error", func(c echo.Context) error {
		return errors.New("a deliberate unhandled error occurred")
	})
	e.GET("/test-http-error", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test-unhandled-error", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	logOutput := logBuffer.String()
	assert.Contains(t, logOutput, "Internal Server Error (Unhandled)")
	assert.Contains(t, logOutput, `error="a deliberate unhandled error occurred"`)
	assert.Contains(t, logOutput, "stack_trace=")
	assert.Contains(t, logOutput, "internal/server/server_test.go")

	logBuffer.Reset()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test-http-error", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotContains(t, logBuffer.String(), "stack_trace=", "HTTP errors are expected and not logged as unhandled")
}

func TestChatGet_RedirectsWithoutSession(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/join", rec.Header().Get(echo.HeaderLocation))
}

func TestJoinGet_RendersForm(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/join", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/join"`)
}

func postJoin(s *Server, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/join", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)
	return rec
}

func TestJoinPost(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("valid name starts a session", func(t *testing.T) {
		rec := postJoin(s, url.Values{"name": {"  Ada "}})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
		assert.Contains(t, rec.Header().Get("Set-Cookie"), sessionName+"=")
	})

	t.Run("missing name goes back to the form", func(t *testing.T) {
		rec := postJoin(s, url.Values{"name": {"   "}})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/join", rec.Header().Get(echo.HeaderLocation))
		assert.NotContains(t, rec.Header().Get("Set-Cookie"), sessionName+"=")
	})

	t.Run("bad avatar url is rejected", func(t *testing.T) {
		rec := postJoin(s, url.Values{"name": {"Ada"}, "avatar": {"not a url"}})
		assert.Equal(t, "/join", rec.Header().Get(echo.HeaderLocation))
	})

	t.Run("only http and https avatars are accepted", func(t *testing.T) {
		for _, avatar := range []string{"javascript:alert(1)", "ftp://example.com/a.png", "data:image/png;base64,AAAA"} {
			rec := postJoin(s, url.Values{"name": {"Ada"}, "avatar": {avatar}})
			assert.Equal(t, "/join", rec.Header().Get(echo.HeaderLocation), avatar)
		}

		rec := postJoin(s, url.Values{"name": {"Ada"}, "avatar": {"https://example.com/ada.png"}})
		assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parley_")
}

func TestStaticAssets(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/chat.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#typing-indicator")

	rec = httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSocket_RequiresSession(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
