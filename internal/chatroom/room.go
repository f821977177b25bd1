// Package chatroom ties one open chat view to the typing coordinator, the
// presence service, the message feed and the roster, and turns their
// updates into htmx fragments.
package chatroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/rendering"
	"github.com/nfrund/parley/internal/typing"
	"github.com/nfrund/parley/internal/view"
	"maragu.dev/gomponents"
)

// Sink receives rendered fragments. It is called from backend delivery
// goroutines and must not block.
type Sink func(fragment []byte)

// Deps are the shared services a view is built from.
type Deps struct {
	Backend       backend.Backend
	Presence      *presence.Service
	Renderer      rendering.Renderer
	Clock         clock.Clock
	TypingOptions []typing.Option
}

// InputKind tells a draft change from a submit.
type InputKind int

const (
	// InputDraft carries the compose box after an edit.
	InputDraft InputKind = iota
	// InputSubmit carries the compose box when the user sends it.
	InputSubmit
)

// Input is one user action in the compose box.
type Input struct {
	Kind InputKind
	Text string
}

// View is one open chat room for one user.
type View struct {
	deps     Deps
	user     identity.User
	clientID string
	sink     Sink
	logger   *slog.Logger

	coordinator *typing.Coordinator
	sender      *chat.Sender
	feed        *chat.Feed
	roster      *presence.Roster

	mu         sync.Mutex
	ready      bool
	closed     bool
	typingText string
	online     []presence.Record
	items      []chat.Item
	shown      map[string]struct{}

	closeOnce sync.Once
}

// Open mounts everything a chat view needs and pushes the first set of
// fragments to sink. Anything acquired before a failure is released.
func Open(ctx context.Context, deps Deps, user identity.User, sink Sink) (*View, error) {
	if user.ID == "" {
		return nil, typing.ErrSignedOut
	}
	if deps.Renderer == nil {
		deps.Renderer = rendering.NewUniversalRenderer()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	v := &View{
		deps:     deps,
		user:     user,
		clientID: uuid.NewString(),
		sink:     sink,
		logger:   slog.Default().With("component", "chatroom", "user_id", user.ID),
		shown:    make(map[string]struct{}),
	}

	deps.Presence.Enter(ctx, user, v.clientID)

	opts := append([]typing.Option{
		typing.WithClock(deps.Clock),
		typing.WithOnChange(v.onTyping),
	}, deps.TypingOptions...)
	coordinator, err := typing.NewCoordinator(deps.Backend, identity.Static(user), opts...)
	if err != nil {
		deps.Presence.Exit(ctx, user.ID, v.clientID)
		return nil, fmt.Errorf("create typing coordinator: %w", err)
	}
	if err := coordinator.Mount(ctx); err != nil {
		deps.Presence.Exit(ctx, user.ID, v.clientID)
		return nil, fmt.Errorf("mount typing coordinator: %w", err)
	}
	v.coordinator = coordinator
	v.sender = chat.NewSender(deps.Backend, identity.Static(user), coordinator, deps.Clock)

	// Neither watcher fails; a lost subscription shows up as an empty list.
	v.feed = chat.WatchFeed(ctx, deps.Backend, user.ID, v.onMessages)
	v.roster = presence.WatchRoster(ctx, deps.Backend, v.onRoster)

	v.mu.Lock()
	v.ready = true
	v.pushLocked(
		view.MessageList(v.items, true),
		view.OnlineUsers(v.online, true),
		view.TypingIndicator(v.typingText, true),
		view.ChatStatus(v.typingText, len(v.online), true),
	)
	for _, item := range v.items {
		v.shown[item.ID] = struct{}{}
	}
	v.mu.Unlock()

	metrics.ActiveViews.Inc()
	v.logger.Info("Chat view opened", "client_id", v.clientID)
	return v, nil
}

// User returns the viewer.
func (v *View) User() identity.User { return v.user }

// Handle applies one compose box action. Only sends can fail.
func (v *View) Handle(ctx context.Context, in Input) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return typing.ErrUnmounted
	}

	switch in.Kind {
	case InputDraft:
		if strings.TrimSpace(in.Text) != "" {
			v.coordinator.OnKeystroke()
		} else {
			v.coordinator.OnComposeCleared()
		}
		return nil
	case InputSubmit:
		_, err := v.sender.Send(ctx, in.Text)
		return err
	default:
		return fmt.Errorf("unknown input kind %d", in.Kind)
	}
}

// Page renders the full chat body for the current state.
func (v *View) Page() gomponents.Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	return view.ChatPage(v.user, v.items, v.online, v.typingText)
}

// Close releases everything Open acquired, in reverse order. It never
// fails and is safe to call more than once.
func (v *View) Close(ctx context.Context) {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		v.roster.Close()
		v.feed.Close()
		v.coordinator.Unmount(ctx)
		v.deps.Presence.Exit(ctx, v.user.ID, v.clientID)

		metrics.ActiveViews.Dec()
		v.logger.Info("Chat view closed", "client_id", v.clientID)
	})
}

func (v *View) onTyping(entries []typing.Entry) {
	text := typing.IndicatorText(entries)

	v.mu.Lock()
	defer v.mu.Unlock()
	if text == v.typingText {
		return
	}
	v.typingText = text
	v.pushLocked(
		view.TypingIndicator(text, true),
		view.ChatStatus(text, len(v.online), true),
	)
}

func (v *View) onRoster(users []presence.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.online = users
	v.pushLocked(
		view.OnlineUsers(users, true),
		view.ChatStatus(v.typingText, len(users), true),
	)
}

// onMessages appends messages the page has not seen. If a shown message
// disappeared the whole list is replaced.
func (v *View) onMessages(items []chat.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = items
	if !v.ready {
		return
	}

	var fresh []chat.Item
	for _, item := range items {
		if _, ok := v.shown[item.ID]; !ok {
			fresh = append(fresh, item)
		}
	}
	if len(items)-len(fresh) != len(v.shown) {
		clear(v.shown)
		for _, item := range items {
			v.shown[item.ID] = struct{}{}
		}
		v.pushLocked(view.MessageList(items, true))
		return
	}
	if len(fresh) == 0 {
		return
	}
	for _, item := range fresh {
		v.shown[item.ID] = struct{}{}
	}
	v.pushLocked(view.AppendMessages(fresh))
}

// pushLocked renders nodes into one fragment and hands it to the sink.
func (v *View) pushLocked(nodes ...any) {
	if !v.ready || v.closed {
		return
	}
	var fragment []byte
	var errs []error
	for _, n := range nodes {
		out, err := v.deps.Renderer.RenderComponent(context.Background(), n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fragment = append(fragment, out...)
	}
	if err := errors.Join(errs...); err != nil {
		v.logger.Error("Failed to render fragment", "error", err)
	}
	if len(fragment) > 0 {
		v.sink(fragment)
	}
}
