package events

import (
	"context"

	"github.com/chat-escrow/backend/internal/messages"
)

// BotOp is one queued delivery for the bot, forwarded by bot-notify-bridge.
type BotOp struct {
	ChatID    int64             `json:"chat_id"`
	Message   *messages.Message `json:"message,omitempty"`
	MessageID int64             `json:"message_id,omitempty"`
	Title     string            `json:"title,omitempty"`
}

// RedisNotifier queues deliveries on StreamBot instead of calling the bot.
// Message ids are unknown at send time, so pinning is left to the bridge,
// which pins messages flagged with Pin right after sending them.
type RedisNotifier struct {
	publisher Publisher
}

func NewRedisNotifier(publisher Publisher) *RedisNotifier {
	return &RedisNotifier{publisher: publisher}
}

func (n *RedisNotifier) SendMessage(ctx context.Context, chatID int64, msg messages.Message) (int64, error) {
	return 0, n.publish(ctx, BotOpSend, BotOp{ChatID: chatID, Message: &msg})
}

func (n *RedisNotifier) PinMessage(ctx context.Context, chatID, messageID int64) error {
	return n.publish(ctx, BotOpPin, BotOp{ChatID: chatID, MessageID: messageID})
}

func (n *RedisNotifier) SetGroupTitle(ctx context.Context, chatID int64, title string) error {
	return n.publish(ctx, BotOpTitle, BotOp{ChatID: chatID, Title: title})
}

func (n *RedisNotifier) publish(ctx context.Context, op string, payload BotOp) error {
	e := Event{Type: op, Payload: map[string]any{"chat_id": payload.ChatID}}
	if payload.Message != nil {
		e.Payload["message"] = payload.Message
	}
	if payload.MessageID != 0 {
		e.Payload["message_id"] = payload.MessageID
	}
	if payload.Title != "" {
		e.Payload["title"] = payload.Title
	}
	return n.publisher.Publish(ctx, StreamBot, e)
}
