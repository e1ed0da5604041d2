package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat-escrow/backend/internal/commands"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/db"
	"github.com/chat-escrow/backend/internal/events"
	apphttp "github.com/chat-escrow/backend/internal/http"
	"github.com/chat-escrow/backend/internal/http/handlers"
	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/chat-escrow/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit database (optional)
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
		if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Redis is required only when notifications are queued
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		if cfg.NotifyMode == config.NotifyRedis {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		log.Warn("redis unavailable, events and rate limiting disabled", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Events
	var publisher events.Publisher = events.NopPublisher{}
	var subscriber events.Subscriber
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
	}

	// Repositories
	sessions := repositories.NewSessionRepo()
	addresses := repositories.NewAddressRepo()
	auditRepo := repositories.NewAuditRepo(pool)

	// Ledger
	readers := ledger.NewReaders(
		ledger.NewBscScanReader(ledger.BscScanOptions{
			BaseURL:   cfg.BscScanURL,
			APIKey:    cfg.BscScanAPIKey,
			Timeout:   cfg.LedgerTimeout,
			RateLimit: cfg.BscScanRPS,
		}, log),
		ledger.NewTronGridReader(ledger.TronGridOptions{
			BaseURL:   cfg.TronGridURL,
			APIKey:    cfg.TronGridAPIKey,
			Timeout:   cfg.LedgerTimeout,
			RateLimit: cfg.TronGridRPS,
		}, log),
	)

	// Services
	botClient := services.NewBotClient(cfg.BotInternalURL, cfg.InternalToken, log)
	notifier := newNotifier(cfg, botClient, publisher)
	bio := services.NewBioChecker("", cfg.BotBioTag, cfg.TMEFetchTimeoutMS, log)
	escrowService := services.NewEscrowService(sessions, addresses, auditRepo, readers, notifier, bio, publisher, m, cfg, log)
	moderationService := services.NewModerationService(botClient, notifier, auditRepo, publisher, cfg, log)
	monitor := services.NewDepositMonitor(addresses, readers, notifier, publisher, m, cfg, log)
	dispatcher := commands.NewDispatcher(escrowService, moderationService, m, log)

	// Handlers
	internalHandler := handlers.NewInternalHandler(dispatcher, log)
	authHandler := handlers.NewAuthHandler(cfg, log)
	adminHandler := handlers.NewAdminHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	if subscriber != nil {
		if err := wsHub.Start(ctx); err != nil {
			log.Error("ws hub subscribe failed", zap.Error(err))
		}
	}

	go monitor.Run(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, reg, internalHandler, authHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting escrow service",
		zap.String("addr", addr),
		zap.String("notify_mode", cfg.NotifyMode),
		zap.Duration("monitor_interval", cfg.MonitorInterval),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// newNotifier picks how chat messages reach the bot.
func newNotifier(cfg *config.Config, bot *services.BotClient, publisher events.Publisher) services.Notifier {
	if cfg.NotifyMode == config.NotifyRedis {
		return events.NewRedisNotifier(publisher)
	}
	return bot
}
