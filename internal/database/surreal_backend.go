package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nfrund/parley/internal/backend"
	"github.com/surrealdb/surrealdb.go"
)

// SurrealBackend implements backend.Backend on SurrealDB. Upserts become
// UPSERT statements with time::now() for server timestamps; subscriptions
// combine an initial SELECT with a LIVE SELECT whose changes are folded into
// an ordered snapshot.
type SurrealBackend struct {
	conn   DBConnection
	live   LiveQueryService
	logger *slog.Logger
}

var _ backend.Backend = (*SurrealBackend)(nil)

// NewSurrealBackend wraps an established connection.
func NewSurrealBackend(conn DBConnection, live LiveQueryService) *SurrealBackend {
	return &SurrealBackend{
		conn:   conn,
		live:   live,
		logger: slog.Default().With("component", "surreal_backend"),
	}
}

// buildUpsert renders the UPSERT statement for a write. Field names are
// inlined (they are validated identifiers); values travel as parameters.
func buildUpsert(collection, key string, fields map[string]any, merge bool) (string, map[string]any) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	params := map[string]any{"tb": collection, "key": key}
	parts := make([]string, 0, len(names))
	for i, name := range names {
		v := fields[name]
		if backend.IsServerTimestamp(v) {
			parts = append(parts, name+": time::now()")
			continue
		}
		p := fmt.Sprintf("f%d", i)
		params[p] = v
		parts = append(parts, fmt.Sprintf("%s: $%s", name, p))
	}

	verb := "CONTENT"
	if merge {
		verb = "MERGE"
	}
	query := fmt.Sprintf("UPSERT type::thing($tb, $key) %s { %s } RETURN NONE;", verb, strings.Join(parts, ", "))
	return query, params
}

// buildSelect renders the initial snapshot query for a filter.
func buildSelect(collection string, filter backend.Filter) (string, map[string]any) {
	params := map[string]any{"tb": collection}
	query := "SELECT * FROM type::table($tb)"
	if len(filter) == 0 {
		return query + ";", params
	}

	conds := make([]string, len(filter))
	for i, c := range filter {
		p := fmt.Sprintf("w%d", i)
		params[p] = c.Value
		op := "="
		if c.Op == backend.OpNeq {
			op = "!="
		}
		conds[i] = fmt.Sprintf("%s %s $%s", c.Field, op, p)
	}
	return query + " WHERE " + strings.Join(conds, " AND ") + ";", params
}

// Upsert implements backend.Backend.
func (b *SurrealBackend) Upsert(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	if err := backend.ValidateWrite(collection, key, fields); err != nil {
		return err
	}

	query, params := buildUpsert(collection, key, fields, merge)
	ctx, cancel := context.WithTimeout(ctx, b.conn.GetDBExecuteTimeout())
	defer cancel()

	err := b.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, db, query, params)
		if err != nil {
			return err
		}
		if results != nil {
			for _, r := range *results {
				if r.Status != "OK" {
					return fmt.Errorf("%w: status %s", ErrQueryFailed, r.Status)
				}
			}
		}
		return nil
	})
	if err != nil {
		return NewDBError(err, "upsert "+collection).WithQuery(query)
	}
	return nil
}

// Subscribe implements backend.Backend. The live query covers the whole
// table and the filter is applied locally, since a server-side WHERE would
// hide the update that moves a record out of the filtered set.
func (b *SurrealBackend) Subscribe(ctx context.Context, collection string, filter backend.Filter, onSnapshot backend.SnapshotHandler) (backend.Unsubscribe, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	view := newLiveView(filter, onSnapshot)

	sub, err := b.live.Subscribe(ctx, collection, nil, func(ctx context.Context, action LiveQueryAction, data any) {
		if action == ActionClose {
			b.logger.Warn("Live query lost, delivering empty snapshot", "collection", collection)
			view.lose()
			return
		}
		key, fields, err := decodeRecord(data)
		if err != nil {
			b.logger.Warn("Skipping undecodable live notification", "collection", collection, "error", err)
			return
		}
		view.apply(action, key, fields)
	})
	if err != nil {
		return nil, WrapError(err, "subscribe "+collection)
	}

	query, params := buildSelect(collection, filter)
	rows, err := b.selectRows(ctx, query, params)
	if err != nil {
		_ = b.live.Unsubscribe(sub.ID)
		return nil, NewDBError(err, "initial snapshot of "+collection).WithQuery(query)
	}
	view.seed(rows, b.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			view.close()
			_ = b.live.Unsubscribe(sub.ID)
		})
	}, nil
}

func (b *SurrealBackend) selectRows(ctx context.Context, query string, params map[string]any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, b.conn.GetDBQueryTimeout())
	defer cancel()

	var rows []any
	err := b.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		results, err := surrealdb.Query[[]any](ctx, db, query, params)
		if err != nil {
			return err
		}
		if results == nil || len(*results) == 0 {
			return nil
		}
		r := (*results)[0]
		if r.Status != "OK" {
			return fmt.Errorf("%w: status %s", ErrQueryFailed, r.Status)
		}
		rows = r.Result
		return nil
	})
	return rows, err
}

// Close releases the underlying connection.
func (b *SurrealBackend) Close() error {
	return b.conn.Close(context.Background())
}

// liveView is the client-side copy of a subscribed table.
type liveView struct {
	filter     backend.Filter
	onSnapshot backend.SnapshotHandler

	mu     sync.Mutex
	order  []string
	docs   map[string]map[string]any
	seeded bool
	closed bool
	// deleted holds keys removed by live notifications before the seed, so
	// the initial SELECT cannot bring them back.
	deleted map[string]struct{}
}

func newLiveView(filter backend.Filter, onSnapshot backend.SnapshotHandler) *liveView {
	return &liveView{
		filter:     filter,
		onSnapshot: onSnapshot,
		docs:       make(map[string]map[string]any),
		deleted:    make(map[string]struct{}),
	}
}

// seed merges the initial SELECT. Rows already updated by a live
// notification keep the newer live version.
func (v *liveView) seed(rows []any, logger *slog.Logger) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range rows {
		key, fields, err := decodeRecord(row)
		if err != nil {
			logger.Warn("Skipping undecodable row", "error", err)
			continue
		}
		if _, gone := v.deleted[key]; gone {
			continue
		}
		if _, ok := v.docs[key]; !ok {
			v.order = append(v.order, key)
			v.docs[key] = fields
		}
	}
	v.seeded = true
	v.deleted = nil
	v.deliverLocked()
}

func (v *liveView) apply(action LiveQueryAction, key string, fields map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch action {
	case ActionDelete:
		if _, ok := v.docs[key]; ok {
			delete(v.docs, key)
			v.order = removeKey(v.order, key)
		}
		if !v.seeded {
			v.deleted[key] = struct{}{}
		}
	default:
		delete(v.deleted, key)
		if _, ok := v.docs[key]; !ok {
			v.order = append(v.order, key)
		}
		v.docs[key] = fields
	}
	// Until the initial SELECT lands, changes only accumulate.
	if v.seeded {
		v.deliverLocked()
	}
}

func (v *liveView) lose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.order = nil
	clear(v.docs)
	v.onSnapshot([]backend.Document{})
}

func (v *liveView) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

// deliverLocked hands a snapshot to the subscriber while holding v.mu,
// which keeps deliveries for the subscription strictly sequential.
func (v *liveView) deliverLocked() {
	if v.closed {
		return
	}
	docs := make([]backend.Document, 0, len(v.order))
	for _, key := range v.order {
		fields := v.docs[key]
		if v.filter.Match(fields) {
			docs = append(docs, backend.Document{Key: key, Fields: fields}.Clone())
		}
	}
	v.onSnapshot(docs)
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
