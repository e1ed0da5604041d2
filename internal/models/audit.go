package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actor types.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// EscrowAudit is one append-only history row of an escrow chat.
type EscrowAudit struct {
	ID          uuid.UUID `json:"id"`
	ChatID      int64     `json:"chat_id"`
	ActorUserID *int64    `json:"actor_user_id,omitempty"`
	ActorType   string    `json:"actor_type"`
	Action      string    `json:"action"`
	Meta        any       `json:"meta,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
