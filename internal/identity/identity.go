// Package identity describes the signed-in user and the display fallbacks
// used wherever a record arrives without a name or avatar.
package identity

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// AnonymousName is shown for users without a display name.
const AnonymousName = "Anonymous"

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// User is an authenticated account as seen by the chat client.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// New creates a user with a fresh random ID.
func New(displayName, avatarURL string) User {
	return User{
		ID:          uuid.NewString(),
		DisplayName: strings.TrimSpace(displayName),
		AvatarURL:   strings.TrimSpace(avatarURL),
	}
}

// Name returns the display name or AnonymousName.
func (u User) Name() string {
	return NameOr(u.DisplayName)
}

// Avatar returns the avatar URL or the generated fallback.
func (u User) Avatar() string {
	return AvatarOr(u.AvatarURL, u.DisplayName, u.ID)
}

// NameOr returns name, or AnonymousName when it is blank.
func NameOr(name string) string {
	if strings.TrimSpace(name) == "" {
		return AnonymousName
	}
	return name
}

// AvatarOr returns avatar, or a generated avatar seeded by name and then
// userID when it is blank.
func AvatarOr(avatar, name, userID string) string {
	if strings.TrimSpace(avatar) != "" {
		return avatar
	}
	seed := name
	if strings.TrimSpace(seed) == "" {
		seed = userID
	}
	return FallbackAvatar(seed)
}

// FallbackAvatar is the deterministic generated avatar for seed.
func FallbackAvatar(seed string) string {
	return avatarBaseURL + url.QueryEscape(seed)
}

// Accessor reports the current user, or false when nobody is signed in.
type Accessor func() (User, bool)

// Static always reports u.
func Static(u User) Accessor {
	return func() (User, bool) { return u, u.ID != "" }
}

// SignedOut never reports a user.
func SignedOut() Accessor {
	return func() (User, bool) { return User{}, false }
}
