package server

import (
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/parley/internal/identity"
)

const (
	sessionName = "parley-session"

	keyUserID = "uid"
	keyName   = "name"
	keyAvatar = "avatar"
)

// currentUser returns the identity stored in the session cookie.
func currentUser(c echo.Context) (identity.User, bool) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return identity.User{}, false
	}
	id, _ := sess.Values[keyUserID].(string)
	if id == "" {
		return identity.User{}, false
	}
	name, _ := sess.Values[keyName].(string)
	avatar, _ := sess.Values[keyAvatar].(string)
	return identity.User{ID: id, DisplayName: name, AvatarURL: avatar}, true
}

func saveUser(c echo.Context, u identity.User) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values[keyUserID] = u.ID
	sess.Values[keyName] = u.DisplayName
	sess.Values[keyAvatar] = u.AvatarURL
	return sess.Save(c.Request(), c.Response())
}

func clearUser(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Options.MaxAge = -1
	clear(sess.Values)
	return sess.Save(c.Request(), c.Response())
}
