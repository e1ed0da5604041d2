package services

import (
	"context"

	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/messages"
	"go.uber.org/zap"
)

// Notifier delivers messages back into a conversation. Failures never roll
// back escrow state; callers log them and move on.
type Notifier interface {
	// SendMessage returns the id of the sent message, or 0 when delivery is
	// asynchronous and the id is not known yet.
	SendMessage(ctx context.Context, chatID int64, msg messages.Message) (int64, error)
	PinMessage(ctx context.Context, chatID, messageID int64) error
	SetGroupTitle(ctx context.Context, chatID int64, title string) error
}

// GroupAdmin covers the membership administration the moderation commands use.
type GroupAdmin interface {
	CreateInviteLink(ctx context.Context, chatID int64) (string, error)
	BanMember(ctx context.Context, chatID, userID int64) error
	PromoteMember(ctx context.Context, chatID, userID int64) error
}

// deliver sends msg and pins it when asked and the message id is known.
func deliver(ctx context.Context, n Notifier, log *zap.Logger, chatID int64, msg messages.Message) {
	id, err := n.SendMessage(ctx, chatID, msg)
	if err != nil {
		log.Warn("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if msg.Pin && id != 0 {
		if err := n.PinMessage(ctx, chatID, id); err != nil {
			log.Warn("pin message failed", zap.Int64("chat_id", chatID), zap.Int64("message_id", id), zap.Error(err))
		}
	}
}

// publish emits an escrow event. Events feed the admin stream only, so a
// failure is logged and the operation carries on.
func publish(ctx context.Context, p events.Publisher, log *zap.Logger, e events.Event) {
	if err := p.Publish(ctx, events.StreamEscrow, e); err != nil {
		log.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
