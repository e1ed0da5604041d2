package http

import (
	"time"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/http/handlers"
	"github.com/chat-escrow/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	internalHandler *handlers.InternalHandler,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Bot-facing
	internal := app.Group("/internal", middleware.InternalTokenMiddleware(cfg))
	internal.Post("/updates", internalHandler.HandleUpdate)

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 60, time.Minute))

	// Auth (public)
	api.Post("/auth/telegram", authHandler.TelegramAuth)

	// Admin
	admin := api.Group("", middleware.AuthMiddleware(cfg, log), middleware.AdminMiddleware(cfg))
	admin.Get("/sessions", adminHandler.ListSessions)
	admin.Get("/sessions/:chatId", adminHandler.GetSession)
	admin.Get("/sessions/:chatId/audit", adminHandler.GetAudit)
	admin.Get("/addresses", adminHandler.ListAddresses)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
