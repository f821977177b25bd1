package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		user       User
		wantName   string
		wantAvatar string
	}{
		{
			name:       "complete",
			user:       User{ID: "u1", DisplayName: "Ada", AvatarURL: "https://example.com/a.png"},
			wantName:   "Ada",
			wantAvatar: "https://example.com/a.png",
		},
		{
			name:       "no avatar seeds by name",
			user:       User{ID: "u1", DisplayName: "Ada Lovelace"},
			wantName:   "Ada Lovelace",
			wantAvatar: "https://api.dicebear.com/7.x/avataaars/svg?seed=Ada+Lovelace",
		},
		{
			name:       "nothing seeds by id",
			user:       User{ID: "u1"},
			wantName:   "Anonymous",
			wantAvatar: "https://api.dicebear.com/7.x/avataaars/svg?seed=u1",
		},
		{
			name:       "blank name",
			user:       User{ID: "u2", DisplayName: "  "},
			wantName:   "Anonymous",
			wantAvatar: "https://api.dicebear.com/7.x/avataaars/svg?seed=u2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.user.Name())
			assert.Equal(t, tt.wantAvatar, tt.user.Avatar())
		})
	}
}

func TestNew(t *testing.T) {
	u := New("  Grace ", "")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Grace", u.DisplayName)
	assert.NotEqual(t, u.ID, New("Grace", "").ID)
}

func TestAccessors(t *testing.T) {
	u, ok := Static(User{ID: "u1"})()
	assert.True(t, ok)
	assert.Equal(t, "u1", u.ID)

	_, ok = Static(User{})()
	assert.False(t, ok)

	_, ok = SignedOut()()
	assert.False(t, ok)
}
