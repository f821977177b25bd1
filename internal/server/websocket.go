package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/chatroom"
	"github.com/nfrund/parley/internal/middleware"
	"github.com/nfrund/parley/internal/view"
)

const (
	sendBuffer     = 64
	writeTimeout   = 5 * time.Second
	closeTimeout   = 2 * time.Second
	maxInboundSize = 16 << 10
)

// wsInput is what the htmx ws extension sends: the compose form values and
// the id of the element that triggered the send.
type wsInput struct {
	Text    string `json:"text"`
	Headers struct {
		Trigger string `json:"HX-Trigger"`
	} `json:"HEADERS"`
}

func (in wsInput) toInput() chatroom.Input {
	if in.Headers.Trigger == view.ComposeInputID {
		return chatroom.Input{Kind: chatroom.InputDraft, Text: in.Text}
	}
	return chatroom.Input{Kind: chatroom.InputSubmit, Text: in.Text}
}

// chatSocket serves one chat view over a websocket. Fragments from the view
// are queued to a write pump; compose box events are read on this goroutine.
func (s *Server) chatSocket(c echo.Context) error {
	user, ok := currentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "join the chat first")
	}
	logger := middleware.FromContext(c.Request().Context()).With("user_id", user.ID)

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("Failed to upgrade WebSocket connection", "error", err)
		return nil
	}
	conn.SetReadLimit(maxInboundSize)

	s.views.Add(1)
	defer s.views.Done()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(s.closing, cancel)
	defer stop()

	out := make(chan []byte, sendBuffer)
	sink := func(fragment []byte) {
		select {
		case out <- fragment:
		default:
			logger.Warn("Send buffer full, dropping fragment", "bytes", len(fragment))
		}
	}

	room, err := chatroom.Open(ctx, s.roomDeps, user, sink)
	if err != nil {
		logger.Error("Failed to open chat view", "error", err)
		conn.Close(websocket.StatusInternalError, "chat unavailable")
		return nil
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
		defer closeCancel()
		room.Close(closeCtx)
	}()

	go writePump(ctx, conn, out, logger)
	readPump(ctx, conn, room, logger)

	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

func readPump(ctx context.Context, conn *websocket.Conn, room *chatroom.View, logger *slog.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("WebSocket closed")
			default:
				if ctx.Err() == nil {
					logger.Info("WebSocket read ended", "error", err)
				}
			}
			return
		}

		var in wsInput
		if err := json.Unmarshal(data, &in); err != nil {
			logger.Warn("Ignoring malformed message", "error", err)
			continue
		}
		if err := room.Handle(ctx, in.toInput()); err != nil {
			if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrMessageTooLong) {
				logger.Debug("Rejected message", "error", err)
				continue
			}
			logger.Warn("Failed to handle input", "error", err)
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case fragment := <-out:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, fragment)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Info("WebSocket write failed", "error", err)
					conn.Close(websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}
