package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/db"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// Bot Notify Bridge: drains the deliveries the escrow service queues on
// Redis in NOTIFY_MODE=redis and replays them against the bot's internal API.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	bot := services.NewBotClient(cfg.BotInternalURL, cfg.InternalToken, log)

	err = subscriber.Subscribe(ctx, events.StreamBot, func(event events.Event) {
		if err := forward(ctx, bot, event); err != nil {
			log.Warn("failed to forward bot operation", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.String("stream", events.StreamBot), zap.Error(err))
	}

	log.Info("bot-notify-bridge started", zap.String("bot_url", cfg.BotInternalURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down bot-notify-bridge")
	cancel()
}

// forward replays one queued operation. Messages flagged for pinning are
// pinned as soon as the bot reports their id.
func forward(ctx context.Context, bot services.Notifier, event events.Event) error {
	var op events.BotOp
	if err := events.Decode(event, &op); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	if op.ChatID == 0 {
		return fmt.Errorf("%s without chat_id", event.Type)
	}

	switch event.Type {
	case events.BotOpSend:
		if op.Message == nil {
			return fmt.Errorf("send without message")
		}
		id, err := bot.SendMessage(ctx, op.ChatID, *op.Message)
		if err != nil {
			return err
		}
		if op.Message.Pin && id != 0 {
			return bot.PinMessage(ctx, op.ChatID, id)
		}
		return nil
	case events.BotOpPin:
		return bot.PinMessage(ctx, op.ChatID, op.MessageID)
	case events.BotOpTitle:
		return bot.SetGroupTitle(ctx, op.ChatID, op.Title)
	default:
		return fmt.Errorf("unknown bot operation %q", event.Type)
	}
}
