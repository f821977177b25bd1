package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	e.POST("/join", func(c echo.Context) error {
		return c.NoContent(http.StatusSeeOther)
	}, RateLimiter())

	post := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/join", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("burst is allowed", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			require.Equal(t, http.StatusSeeOther, post("192.0.2.2").Code, "request %d should be allowed", i+1)
		}
	})

	t.Run("request past the burst is denied", func(t *testing.T) {
		rec := post("192.0.2.2")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "Too many requests")
	})

	t.Run("other clients are unaffected", func(t *testing.T) {
		assert.Equal(t, http.StatusSeeOther, post("192.0.2.3").Code)
	})
}
