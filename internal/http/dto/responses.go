package dto

import "github.com/chat-escrow/backend/internal/models"

type AuthResponse struct {
	Token string   `json:"token"`
	User  AuthUser `json:"user"`
}

type AuthUser struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Username       string `json:"username,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	Admin          bool   `json:"admin"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// SessionView is an escrow session as shown to admins, with its derived phase.
type SessionView struct {
	*models.EscrowSession
	Phase string `json:"phase"`
	Kind  string `json:"kind"`
}

func NewSessionView(s *models.EscrowSession) SessionView {
	return SessionView{EscrowSession: s, Phase: s.Phase(), Kind: s.Kind()}
}

// AddressView adds the amount received since issuance to a monitored address.
type AddressView struct {
	models.MonitoredAddress
	ReceivedSinceIssue string `json:"received_since_issue"`
}

func NewAddressView(m models.MonitoredAddress) AddressView {
	return AddressView{MonitoredAddress: m, ReceivedSinceIssue: m.ReceivedSinceIssue().String()}
}
