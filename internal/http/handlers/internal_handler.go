package handlers

import (
	"errors"

	"github.com/chat-escrow/backend/internal/commands"
	"github.com/chat-escrow/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// InternalHandler receives the updates the bot forwards and answers with the
// actions the bot should take.
type InternalHandler struct {
	dispatcher *commands.Dispatcher
	log        *zap.Logger
}

func NewInternalHandler(dispatcher *commands.Dispatcher, log *zap.Logger) *InternalHandler {
	return &InternalHandler{dispatcher: dispatcher, log: log}
}

func (h *InternalHandler) HandleUpdate(c *fiber.Ctx) error {
	var env commands.Envelope
	if err := c.BodyParser(&env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if env.ChatID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "chat_id is required"})
	}

	cmd, err := commands.Decode(env)
	if errors.Is(err, commands.ErrUnknownCommand) {
		// not ours; the bot ignores an empty response
		return c.JSON(commands.Response{})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.log.Debug("update",
		zap.String("command", cmd.Name()),
		zap.Int64("chat_id", env.ChatID),
		zap.Int64("user_id", env.UserID),
	)
	return c.JSON(h.dispatcher.Dispatch(c.UserContext(), cmd))
}
