package handlers

import (
	"errors"
	"strconv"

	"github.com/chat-escrow/backend/internal/http/dto"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AdminHandler is the read-only view of live escrows for admins.
type AdminHandler struct {
	escrow *services.EscrowService
	log    *zap.Logger
}

func NewAdminHandler(escrow *services.EscrowService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{escrow: escrow, log: log}
}

func (h *AdminHandler) ListSessions(c *fiber.Ctx) error {
	sessions := h.escrow.ListSessions()
	views := make([]dto.SessionView, 0, len(sessions))
	for _, s := range sessions {
		if phase := c.Query("phase"); phase != "" && s.Phase() != phase {
			continue
		}
		views = append(views, dto.NewSessionView(s))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}

func (h *AdminHandler) GetSession(c *fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("chatId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid chat id"})
	}

	sess, err := h.escrow.GetSession(chatID)
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "session not found"})
	}
	if err != nil {
		h.log.Error("get session failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSessionView(sess)})
}

func (h *AdminHandler) GetAudit(c *fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("chatId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid chat id"})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := h.escrow.AuditTrail(c.UserContext(), chatID, limit, offset)
	if err != nil {
		h.log.Error("audit trail failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *AdminHandler) ListAddresses(c *fiber.Ctx) error {
	addrs := h.escrow.ListAddresses()
	views := make([]dto.AddressView, 0, len(addrs))
	for _, a := range addrs {
		views = append(views, dto.NewAddressView(a))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}
