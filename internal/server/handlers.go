package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/middleware"
	"github.com/nfrund/parley/internal/view"
)

// joinForm is the POST /join body.
type joinForm struct {
	Name   string `form:"name" validate:"required,max=50"`
	Avatar string `form:"avatar" validate:"omitempty,http_url,max=500"`
}

// chatGet renders the chat room. Live state arrives over /ws.
func (s *Server) chatGet(c echo.Context) error {
	user, ok := currentUser(c)
	if !ok {
		return c.Redirect(http.StatusSeeOther, "/join")
	}
	page := view.ChatPage(user, nil, nil, "")
	return c.Render(http.StatusOK, "", view.Base("Chat", view.GetFlashData(c), view.AdaptGomponentToTempl(page)))
}

func (s *Server) joinGet(c echo.Context) error {
	if _, ok := currentUser(c); ok {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	page := view.JoinPage("", "")
	return c.Render(http.StatusOK, "", view.Base("Join", view.GetFlashData(c), view.AdaptGomponentToTempl(page)))
}

func (s *Server) joinPost(c echo.Context) error {
	var form joinForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	form.Name = strings.TrimSpace(form.Name)
	form.Avatar = strings.TrimSpace(form.Avatar)

	if err := s.validate.Struct(form); err != nil {
		view.SetFlashError(c, joinErrorMessage(err))
		return c.Redirect(http.StatusSeeOther, "/join")
	}

	user := identity.New(form.Name, form.Avatar)
	if err := saveUser(c, user); err != nil {
		return err
	}
	middleware.FromContext(c.Request().Context()).Info("User joined", "user_id", user.ID)
	return c.Redirect(http.StatusSeeOther, "/")
}

func joinErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Please check the form and try again."
	}
	switch f := verrs[0]; {
	case f.Field() == "Name" && f.Tag() == "required":
		return "Please enter a display name."
	case f.Field() == "Name":
		return "Display names are limited to 50 characters."
	default:
		return "The avatar must be an http or https URL."
	}
}

func (s *Server) leavePost(c echo.Context) error {
	if user, ok := currentUser(c); ok {
		middleware.FromContext(c.Request().Context()).Info("User left", "user_id", user.ID)
	}
	if err := clearUser(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/join")
}
