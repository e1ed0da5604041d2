package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	CtxRequestID    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// maxRequestIDLen bounds ids supplied by callers before they reach the logs.
const maxRequestIDLen = 64

// RequestIDMiddleware keeps the caller's X-Request-ID (the bot forwards its
// update id) or issues a time-ordered one.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(RequestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = newRequestID()
		}
		c.Locals(CtxRequestID, reqID)
		c.Set(RequestIDHeader, reqID)
		return c.Next()
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
