package presence

import (
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/identity"
)

// Collection holds one presence record per user, keyed by user ID.
const Collection = "users"

// Field names of a presence record.
const (
	FieldUserID   = "uid"
	FieldName     = "name"
	FieldAvatar   = "avatar"
	FieldIsOnline = "isOnline"
	FieldLastSeen = "lastSeen"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Record is a presence record as stored in Collection.
type Record struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	IsOnline    bool
	LastSeen    time.Time
}

// RecordFromDocument decodes a stored document, tolerating missing fields.
func RecordFromDocument(doc backend.Document) Record {
	r := Record{IsOnline: backend.Bool(doc.Fields, FieldIsOnline)}
	r.UserID, _ = backend.String(doc.Fields, FieldUserID)
	if r.UserID == "" {
		r.UserID = doc.Key
	}
	r.DisplayName, _ = backend.String(doc.Fields, FieldName)
	r.AvatarURL, _ = backend.String(doc.Fields, FieldAvatar)
	r.LastSeen, _ = backend.Time(doc.Fields, FieldLastSeen)
	return r
}

// Name returns the display name with the anonymous fallback.
func (r Record) Name() string {
	return identity.NameOr(r.DisplayName)
}

// Avatar returns the avatar URL with the generated fallback.
func (r Record) Avatar() string {
	return identity.AvatarOr(r.AvatarURL, r.DisplayName, r.UserID)
}

// Status reports the record's presence state.
func (r Record) Status() Status {
	if r.IsOnline {
		return StatusOnline
	}
	return StatusOffline
}
