package typing

import (
	"fmt"
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/identity"
)

// Collection holds one typing record per user, keyed by user ID.
const Collection = "typingStatus"

// Field names of a typing record.
const (
	FieldUserID     = "uid"
	FieldName       = "name"
	FieldAvatar     = "avatar"
	FieldIsTyping   = "isTyping"
	FieldLastUpdate = "lastUpdate"
)

// Record is a typing record as stored in Collection.
type Record struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	IsTyping    bool
	LastUpdate  time.Time
}

// RecordFromDocument decodes a stored document. Missing or mistyped fields
// decode to their zero values; the document key stands in for a missing uid.
func RecordFromDocument(doc backend.Document) Record {
	r := Record{IsTyping: backend.Bool(doc.Fields, FieldIsTyping)}
	r.UserID, _ = backend.String(doc.Fields, FieldUserID)
	if r.UserID == "" {
		r.UserID = doc.Key
	}
	r.DisplayName, _ = backend.String(doc.Fields, FieldName)
	r.AvatarURL, _ = backend.String(doc.Fields, FieldAvatar)
	r.LastUpdate, _ = backend.Time(doc.Fields, FieldLastUpdate)
	return r
}

// Fresh reports whether the record should still be shown at now. Records
// without a timestamp count as stale.
func (r Record) Fresh(now time.Time, threshold time.Duration) bool {
	if !r.IsTyping || r.LastUpdate.IsZero() {
		return false
	}
	return now.Sub(r.LastUpdate) < threshold
}

// Entry is one user in the typing indicator.
type Entry struct {
	UserID string
	Name   string
	Avatar string
}

// Entry resolves display fallbacks for the record.
func (r Record) Entry() Entry {
	return Entry{
		UserID: r.UserID,
		Name:   identity.NameOr(r.DisplayName),
		Avatar: identity.AvatarOr(r.AvatarURL, r.DisplayName, r.UserID),
	}
}

// IndicatorText renders the typing indicator line for entries.
func IndicatorText(entries []Entry) string {
	switch len(entries) {
	case 0:
		return ""
	case 1:
		return entries[0].Name + " is typing"
	case 2:
		return entries[0].Name + " and " + entries[1].Name + " are typing"
	default:
		return fmt.Sprintf("%s and %d others are typing", entries[0].Name, len(entries)-1)
	}
}
