package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update.
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
	// ActionClose is delivered once when the server side of the live query
	// goes away without Unsubscribe having been called.
	ActionClose LiveQueryAction = "CLOSE"
)

// LiveQueryHandler is called for every change. Calls for one subscription
// are made one at a time, in the order the server sent them.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows a live query on the server.
type LiveQueryFilter struct {
	Where  string         // SurrealQL WHERE clause
	Params map[string]any // Query parameters
}

// Subscription represents an active live query subscription.
type Subscription struct {
	ID    string
	Table string
}

// LiveQueryService provides real-time data subscriptions via SurrealDB live queries.
type LiveQueryService interface {
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)
	Unsubscribe(subID string) error
}

// SurrealLiveQueryService implements LiveQueryService using SurrealDB.
type SurrealLiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	subscriptions sync.Map // map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	table       string
	handler     LiveQueryHandler
	cancel      context.CancelFunc
	liveQueryID string
}

var _ LiveQueryService = (*SurrealLiveQueryService)(nil)

// NewSurrealLiveQueryService creates a new live query service.
func NewSurrealLiveQueryService(db DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{
		db:     db,
		logger: slog.Default().With("component", "live_query"),
	}
}

// buildLiveQuery returns the LIVE SELECT statement for table. table must
// already be validated as an identifier.
func buildLiveQuery(table string, filter *LiveQueryFilter) (string, map[string]any) {
	query := fmt.Sprintf("LIVE SELECT * FROM %s", table)
	params := map[string]any{}
	if filter != nil {
		if filter.Where != "" {
			query = fmt.Sprintf("%s WHERE %s", query, filter.Where)
		}
		for k, v := range filter.Params {
			params[k] = v
		}
	}
	return query, params
}

// Subscribe starts a live query on table.
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	query, params := buildLiveQuery(table, filter)
	subID := uuid.NewString()
	subCtx, cancel := context.WithCancel(context.Background())
	state := &subscriptionState{
		id:      subID,
		table:   table,
		handler: handler,
		cancel:  cancel,
	}

	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, dbConn, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return errors.New("live query returned no results")
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("%w: status %s", ErrQueryFailed, result.Status)
		}
		id, err := liveQueryID(result.Result)
		if err != nil {
			return err
		}
		state.liveQueryID = id

		notifications, err := dbConn.LiveNotifications(id)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		s.subscriptions.Store(subID, state)
		go s.listenForNotifications(subCtx, state, notifications)
		go s.killOnCancel(subCtx, dbConn, state)
		return nil
	})
	if err != nil {
		cancel()
		return nil, NewDBError(errors.Join(ErrLiveQuery, err), "subscribe to "+table).WithQuery(query)
	}

	s.logger.Debug("Live query established", "sub_id", subID, "table", table, "live_query_id", state.liveQueryID)
	return &Subscription{ID: subID, Table: table}, nil
}

func liveQueryID(result any) (string, error) {
	switch v := result.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case models.UUID:
		return v.String(), nil
	case *models.UUID:
		if v != nil {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("unexpected live query result %T: %v", result, result)
}

// killOnCancel releases the server side of the live query once the
// subscription is canceled.
func (s *SurrealLiveQueryService) killOnCancel(ctx context.Context, dbConn *surrealdb.DB, state *subscriptionState) {
	<-ctx.Done()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dbConn.CloseLiveNotifications(state.liveQueryID); err != nil {
		s.logger.Debug("Failed to close live notifications", "error", err, "live_query_id", state.liveQueryID)
	}
	_, err := surrealdb.Query[any](cleanupCtx, dbConn, "KILL $liveQueryID", map[string]any{
		"liveQueryID": state.liveQueryID,
	})
	if err != nil {
		s.logger.Debug("Failed to kill live query", "error", err, "live_query_id", state.liveQueryID)
	}
}

// Unsubscribe removes a live query subscription. Unknown IDs are ignored.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	if v, ok := s.subscriptions.LoadAndDelete(subID); ok {
		v.(*subscriptionState).cancel()
		s.logger.Debug("Live query subscription removed", "sub_id", subID)
	}
	return nil
}

func (s *SurrealLiveQueryService) listenForNotifications(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	for {
		select {
		case <-ctx.Done():
			return

		case notification, ok := <-notifications:
			if !ok {
				if ctx.Err() == nil {
					s.logger.Warn("Live query notification channel closed", "sub_id", state.id, "table", state.table)
					s.subscriptions.Delete(state.id)
					s.dispatch(ctx, state, ActionClose, nil)
					state.cancel()
				}
				return
			}

			var action LiveQueryAction
			switch notification.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				s.logger.Warn("Unknown notification action", "sub_id", state.id, "action", notification.Action)
				continue
			}
			s.dispatch(ctx, state, action, notification.Result)
		}
	}
}

func (s *SurrealLiveQueryService) dispatch(ctx context.Context, state *subscriptionState, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, action, data)
}
