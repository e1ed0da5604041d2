package services

import (
	"context"
	"fmt"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// ModerationService handles the admin side of escrow groups: disputes,
// blacklisting and promoting admins who join.
type ModerationService struct {
	admin     GroupAdmin
	notifier  Notifier
	auditRepo *repositories.AuditRepo
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewModerationService(
	admin GroupAdmin,
	notifier Notifier,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *ModerationService {
	return &ModerationService{
		admin:     admin,
		notifier:  notifier,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

func (s *ModerationService) IsAdmin(userID int64) bool {
	return s.cfg.IsAdmin(userID)
}

// RaiseDispute invites every configured admin into the group through a fresh
// invite link.
func (s *ModerationService) RaiseDispute(ctx context.Context, chatID int64, title string, actorID int64) error {
	link, err := s.admin.CreateInviteLink(ctx, chatID)
	if err != nil {
		s.log.Error("invite link failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSinkFailed, err)
	}

	alert := messages.DisputeAlert(title, chatID, link)
	for _, adminID := range s.cfg.AdminTelegramIDs {
		if _, err := s.notifier.SendMessage(ctx, adminID, alert); err != nil {
			s.log.Warn("dispute alert failed",
				zap.Int64("chat_id", chatID),
				zap.Int64("admin_id", adminID),
				zap.Error(err),
			)
		}
	}

	s.record(ctx, chatID, actorID, events.EventDisputeRaised, map[string]any{"admins": len(s.cfg.AdminTelegramIDs)})
	return nil
}

// Blacklist bans target from the group. Only admins may do it, and admins
// cannot be banned.
func (s *ModerationService) Blacklist(ctx context.Context, chatID, actorID, targetID int64) error {
	if !s.cfg.IsAdmin(actorID) {
		return ErrAdminOnly
	}
	if s.cfg.IsAdmin(targetID) {
		return ErrProtectedMember
	}
	if err := s.admin.BanMember(ctx, chatID, targetID); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkFailed, err)
	}

	s.record(ctx, chatID, actorID, events.EventMemberBanned, map[string]any{"user_id": targetID})
	return nil
}

// PromoteOnJoin makes a configured admin a group administrator as soon as
// they join. It reports whether a promotion was attempted.
func (s *ModerationService) PromoteOnJoin(ctx context.Context, chatID, userID int64) bool {
	if !s.cfg.IsAdmin(userID) {
		return false
	}
	if err := s.admin.PromoteMember(ctx, chatID, userID); err != nil {
		s.log.Warn("promote failed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
	}
	return true
}

func (s *ModerationService) record(ctx context.Context, chatID, actorID int64, action string, meta map[string]any) {
	actor := actorID
	if err := s.auditRepo.Log(ctx, models.EscrowAudit{
		ChatID:      chatID,
		ActorUserID: &actor,
		ActorType:   models.ActorUser,
		Action:      action,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.Int64("chat_id", chatID), zap.String("action", action), zap.Error(err))
	}
	payload := map[string]any{"chat_id": chatID, "actor_user_id": actorID}
	for k, v := range meta {
		payload[k] = v
	}
	publish(ctx, s.publisher, s.log, events.Event{Type: action, Payload: payload})
}
