package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/middleware"
	"github.com/nfrund/parley/internal/view"
	"github.com/nfrund/parley/web"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/", s.chatGet)
	s.E.GET("/join", s.joinGet)
	s.E.POST("/join", s.joinPost, middleware.RateLimiter())
	s.E.POST("/leave", s.leavePost)
	s.E.GET("/ws", s.chatSocket)
	s.E.StaticFS(view.StaticPrefix, echo.MustSubFS(web.FS, "static"))

	s.E.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.E.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
