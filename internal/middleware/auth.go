package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/chat-escrow/backend/internal/auth"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	CtxTelegramUserID = "telegram_user_id"
	CtxAdmin          = "admin"
)

// InternalTokenHeader carries the secret shared with the bot process.
const InternalTokenHeader = "X-Internal-Token"

// InternalTokenMiddleware guards the bot-facing endpoints. With no token
// configured every call passes; Validate warns about that at startup.
func InternalTokenMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.InternalToken == "" {
			return c.Next()
		}
		got := c.Get(InternalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.InternalToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid internal token"})
		}
		return c.Next()
	}
}

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxTelegramUserID, claims.TelegramUserID)
		c.Locals(CtxAdmin, claims.Admin)

		return c.Next()
	}
}

func GetTelegramUserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(CtxTelegramUserID).(int64)
	return id
}

// AdminMiddleware checks the caller against the current admin list, so an
// admin removed from the config loses access before the token expires.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.IsAdmin(GetTelegramUserID(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}
