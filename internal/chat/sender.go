package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/clock"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/metrics"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 2000

var (
	// ErrEmptyMessage is returned for messages that are blank after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrMessageTooLong is returned for messages over MaxMessageLength.
	ErrMessageTooLong = errors.New("chat: message is too long")
	// ErrSignedOut is returned when nobody is signed in.
	ErrSignedOut = errors.New("chat: no signed-in user")
)

// TypingStopper is told about sends so the typing indicator clears at once.
type TypingStopper interface {
	OnMessageSent()
}

type sendRequest struct {
	Text string `validate:"required,max=2000"`
}

// Sender writes new messages for the signed-in user.
type Sender struct {
	backend  backend.Backend
	identity identity.Accessor
	typing   TypingStopper
	clock    clock.Clock
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSender creates a Sender. typing may be nil.
func NewSender(b backend.Backend, who identity.Accessor, typing TypingStopper, clk clock.Clock) *Sender {
	if clk == nil {
		clk = clock.New()
	}
	return &Sender{
		backend:  b,
		identity: who,
		typing:   typing,
		clock:    clk,
		validate: validator.New(),
		logger:   slog.Default().With("component", "chat_sender"),
	}
}

// Send trims and validates text, clears the typing indicator and writes the
// message. Unlike typing updates, a failed send is returned to the caller.
func (s *Sender) Send(ctx context.Context, text string) (Message, error) {
	me, ok := s.identity()
	if !ok {
		return Message{}, ErrSignedOut
	}

	req := sendRequest{Text: strings.TrimSpace(text)}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return Message{}, ErrMessageTooLong
		}
		return Message{}, ErrEmptyMessage
	}

	if s.typing != nil {
		s.typing.OnMessageSent()
	}

	msg := Message{
		ID:          uuid.NewString(),
		UserID:      me.ID,
		DisplayName: me.Name(),
		AvatarURL:   me.Avatar(),
		Text:        req.Text,
		SentAt:      s.clock.Now().UTC(),
	}
	fields := map[string]any{
		FieldUserID:          msg.UserID,
		FieldName:            msg.DisplayName,
		FieldAvatar:          msg.AvatarURL,
		FieldText:            msg.Text,
		FieldCreatedAt:       backend.ServerTimestamp,
		FieldClientTimestamp: msg.SentAt.UnixMilli(),
	}

	err := s.backend.Upsert(ctx, Collection, msg.ID, fields, false)
	metrics.MessagesSent.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Error("Failed to send message", "user_id", me.ID, "error", err)
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug("Message sent", "user_id", me.ID, "message_id", msg.ID)
	return msg, nil
}
