// Package backend defines the document store contract the chat client is
// built on: keyed upserts with server-assigned timestamps and live
// subscriptions that deliver full snapshots of a filtered collection.
package backend

import (
	"context"
	"errors"
	"maps"
)

var (
	// ErrInvalidCollection is returned for collection names that are not plain identifiers.
	ErrInvalidCollection = errors.New("invalid collection name")
	// ErrInvalidKey is returned for empty or malformed document keys.
	ErrInvalidKey = errors.New("invalid document key")
	// ErrInvalidField is returned for field names that are not plain identifiers.
	ErrInvalidField = errors.New("invalid field name")
	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("backend closed")
)

// Document is one record of a collection as delivered in a snapshot.
type Document struct {
	Key    string
	Fields map[string]any
}

// Clone returns a copy whose field map can be modified freely.
func (d Document) Clone() Document {
	return Document{Key: d.Key, Fields: maps.Clone(d.Fields)}
}

// SnapshotHandler receives the complete set of documents matching a
// subscription. Every call replaces the previous set.
type SnapshotHandler func(docs []Document)

// Unsubscribe ends a subscription. It is safe to call more than once.
type Unsubscribe func()

// Backend is a document store with live queries.
type Backend interface {
	// Upsert writes fields to collection/key. With merge the fields are
	// combined with the stored document, otherwise they replace it.
	// ServerTimestamp values are resolved by the backend's clock.
	Upsert(ctx context.Context, collection, key string, fields map[string]any, merge bool) error

	// Subscribe delivers the current matching set to onSnapshot and then a
	// new full set after every change. Deliveries for one subscription
	// never overlap. If the subscription is lost after it was established
	// onSnapshot receives one empty set.
	Subscribe(ctx context.Context, collection string, filter Filter, onSnapshot SnapshotHandler) (Unsubscribe, error)

	Close() error
}

type serverTimestamp struct{}

// ServerTimestamp is a field value the backend replaces with its own
// current time when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ServerTimestampFields returns the names of fields holding ServerTimestamp.
func ServerTimestampFields(fields map[string]any) []string {
	var names []string
	for k, v := range fields {
		if IsServerTimestamp(v) {
			names = append(names, k)
		}
	}
	return names
}
