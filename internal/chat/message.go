// Package chat sends messages and maintains the ordered message feed of a
// chat view.
package chat

import (
	"time"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/identity"
)

// Collection holds chat messages keyed by a random ID.
const Collection = "messages"

// Field names of a message document.
const (
	FieldUserID          = "uid"
	FieldName            = "name"
	FieldAvatar          = "avatar"
	FieldText            = "text"
	FieldCreatedAt       = "createdAt"
	FieldClientTimestamp = "timestamp"
)

// Message is one chat message.
type Message struct {
	ID          string
	UserID      string
	DisplayName string
	AvatarURL   string
	Text        string
	// CreatedAt is assigned by the backend; zero until the write is applied.
	CreatedAt time.Time
	// SentAt is the sender's clock, used for ordering until CreatedAt exists.
	SentAt time.Time
}

// MessageFromDocument decodes a stored message, tolerating missing fields.
func MessageFromDocument(doc backend.Document) Message {
	m := Message{ID: doc.Key}
	m.UserID, _ = backend.String(doc.Fields, FieldUserID)
	m.DisplayName, _ = backend.String(doc.Fields, FieldName)
	m.AvatarURL, _ = backend.String(doc.Fields, FieldAvatar)
	m.Text, _ = backend.String(doc.Fields, FieldText)
	m.CreatedAt, _ = backend.Time(doc.Fields, FieldCreatedAt)
	m.SentAt, _ = backend.Time(doc.Fields, FieldClientTimestamp)
	return m
}

// Name returns the sender name with the anonymous fallback.
func (m Message) Name() string {
	return identity.NameOr(m.DisplayName)
}

// Avatar returns the sender avatar with the generated fallback.
func (m Message) Avatar() string {
	return identity.AvatarOr(m.AvatarURL, m.DisplayName, m.UserID)
}

// Timestamp is the time the feed orders by.
func (m Message) Timestamp() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt
	}
	return m.SentAt
}

// Item is a feed entry as seen by one user.
type Item struct {
	Message
	Mine bool
}
