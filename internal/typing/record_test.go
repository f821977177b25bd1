package typing

import (
	"testing"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/stretchr/testify/assert"
)

func entriesNamed(names ...string) []Entry {
	out := make([]Entry, len(names))
	for i, n := range names {
		out[i] = Entry{UserID: n, Name: n}
	}
	return out
}

func TestIndicatorText(t *testing.T) {
	tests := []struct {
		entries []Entry
		want    string
	}{
		{nil, ""},
		{entriesNamed("Ada"), "Ada is typing"},
		{entriesNamed("Ada", "Grace"), "Ada and Grace are typing"},
		{entriesNamed("Ada", "Grace", "Linus"), "Ada and 2 others are typing"},
		{entriesNamed("Ada", "Grace", "Linus", "Ken", "Rob"), "Ada and 4 others are typing"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, IndicatorText(tt.entries))
		})
	}
}

func TestRecordFromDocument(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	r := RecordFromDocument(backend.Document{Key: "u1", Fields: map[string]any{
		"uid": "u1", "name": "Ada", "avatar": "https://example.com/ada.png",
		"isTyping": true, "lastUpdate": at,
	}})
	assert.Equal(t, Record{UserID: "u1", DisplayName: "Ada", AvatarURL: "https://example.com/ada.png", IsTyping: true, LastUpdate: at}, r)

	partial := RecordFromDocument(backend.Document{Key: "u9", Fields: map[string]any{"isTyping": "yes"}})
	assert.Equal(t, "u9", partial.UserID)
	assert.False(t, partial.IsTyping)
	assert.True(t, partial.LastUpdate.IsZero())
}

func TestRecordFresh(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	threshold := 5 * time.Second

	assert.True(t, Record{IsTyping: true, LastUpdate: now.Add(-4 * time.Second)}.Fresh(now, threshold))
	assert.False(t, Record{IsTyping: true, LastUpdate: now.Add(-5 * time.Second)}.Fresh(now, threshold))
	assert.False(t, Record{IsTyping: true, LastUpdate: now.Add(-10 * time.Second)}.Fresh(now, threshold))
	assert.False(t, Record{IsTyping: false, LastUpdate: now}.Fresh(now, threshold))
	assert.False(t, Record{IsTyping: true}.Fresh(now, threshold), "missing timestamp counts as stale")
}

func TestRecordEntryFallbacks(t *testing.T) {
	e := Record{UserID: "u7"}.Entry()
	assert.Equal(t, "Anonymous", e.Name)
	assert.Equal(t, "https://api.dicebear.com/7.x/avataaars/svg?seed=u7", e.Avatar)

	e = Record{UserID: "u7", DisplayName: "Grace"}.Entry()
	assert.Equal(t, "Grace", e.Name)
	assert.Equal(t, "https://api.dicebear.com/7.x/avataaars/svg?seed=Grace", e.Avatar)
}
