package models

import (
	"strconv"
	"strings"
	"time"
)

// Roles a party can declare inside an escrow group.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Negotiation states. A negotiation instance only ever moves forward through
// these; a rejection discards the instance instead of moving it backwards.
const (
	NegotiationAssetChosen      = "asset_chosen"
	NegotiationAwaitingDecision = "awaiting_decision"
	NegotiationAccepted         = "accepted"
)

// Session phases, derived from the declarations and the negotiation.
const (
	PhaseNoRoles          = "no_roles"
	PhaseRolesPartial     = "roles_partial"
	PhaseRolesComplete    = "roles_complete"
	PhaseAssetChosen      = "asset_chosen"
	PhaseAwaitingDecision = "awaiting_decision"
	PhaseAccepted         = "accepted"
)

// Valid phase transitions: from -> []to.
// Reject moves AwaitingDecision back to RolesComplete (negotiation discarded);
// choosing an asset again before acceptance starts a fresh negotiation.
var ValidPhaseTransitions = map[string][]string{
	PhaseNoRoles:          {PhaseRolesPartial},
	PhaseRolesPartial:     {PhaseRolesComplete},
	PhaseRolesComplete:    {PhaseAssetChosen},
	PhaseAssetChosen:      {PhaseAwaitingDecision, PhaseAssetChosen},
	PhaseAwaitingDecision: {PhaseAccepted, PhaseRolesComplete, PhaseAssetChosen},
	PhaseAccepted:         {},
}

func IsValidPhaseTransition(from, to string) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Group kinds, read from the chat title the group was created with.
const (
	GroupKindP2P     = "P2P"
	GroupKindOTC     = "OTC"
	GroupKindProduct = "Product Deal"
)

func GroupKindFromTitle(title string) string {
	switch {
	case strings.Contains(title, "P2P"):
		return GroupKindP2P
	case strings.Contains(title, "OTC"):
		return GroupKindOTC
	default:
		return GroupKindProduct
	}
}

type PartyDeclaration struct {
	UserID         int64  `json:"user_id"`
	DisplayName    string `json:"display_name"`
	DepositAddress string `json:"deposit_address"`
	BioFlagPresent bool   `json:"bio_flag_present"`
}

type Negotiation struct {
	Asset           string `json:"asset"`
	Network         string `json:"network,omitempty"`
	InitiatorUserID int64  `json:"initiator_user_id"`
	State           string `json:"state"`
}

// EscrowSession is the escrow record of one chat group.
type EscrowSession struct {
	ChatID               int64             `json:"chat_id"`
	Title                string            `json:"title"`
	Buyer                *PartyDeclaration `json:"buyer,omitempty"`
	Seller               *PartyDeclaration `json:"seller,omitempty"`
	Negotiation          *Negotiation      `json:"negotiation,omitempty"`
	DepositAddress       string            `json:"deposit_address,omitempty"`
	TransactionID        int64             `json:"transaction_id,omitempty"`
	TradeStartedAt       *time.Time        `json:"trade_started_at,omitempty"`
	LastDepositRequestAt *time.Time        `json:"last_deposit_request_at,omitempty"`
	GroupRenamed         bool              `json:"group_renamed"`
	CreatedAt            time.Time         `json:"created_at"`
}

func (s *EscrowSession) Phase() string {
	if s.Negotiation != nil {
		switch s.Negotiation.State {
		case NegotiationAccepted:
			return PhaseAccepted
		case NegotiationAwaitingDecision:
			return PhaseAwaitingDecision
		default:
			return PhaseAssetChosen
		}
	}
	switch {
	case s.Buyer != nil && s.Seller != nil:
		return PhaseRolesComplete
	case s.Buyer != nil || s.Seller != nil:
		return PhaseRolesPartial
	default:
		return PhaseNoRoles
	}
}

func (s *EscrowSession) RolesComplete() bool {
	return s.Buyer != nil && s.Seller != nil
}

func (s *EscrowSession) Party(role string) *PartyDeclaration {
	if role == RoleBuyer {
		return s.Buyer
	}
	return s.Seller
}

func (s *EscrowSession) SetParty(role string, p *PartyDeclaration) {
	if role == RoleBuyer {
		s.Buyer = p
		return
	}
	s.Seller = p
}

// Counterparty returns the party allowed to resolve the current negotiation:
// the seller when the buyer initiated it, the buyer otherwise.
func (s *EscrowSession) Counterparty() (*PartyDeclaration, string) {
	if s.Negotiation == nil || s.Buyer == nil || s.Seller == nil {
		return nil, ""
	}
	if s.Negotiation.InitiatorUserID == s.Buyer.UserID {
		return s.Seller, RoleSeller
	}
	return s.Buyer, RoleBuyer
}

func (s *EscrowSession) Kind() string {
	return GroupKindFromTitle(s.Title)
}

// TitleWithTransactionID renders the renamed group title, or "" when the
// current title already carries the id.
func (s *EscrowSession) TitleWithTransactionID(brand string) string {
	id := strconv.FormatInt(s.TransactionID, 10)
	if strings.Contains(s.Title, id) {
		return ""
	}
	return s.Kind() + " Escrow By " + brand + " (" + id + ")"
}

// Clone returns a deep copy safe to hand out of the registry.
func (s *EscrowSession) Clone() *EscrowSession {
	c := *s
	if s.Buyer != nil {
		b := *s.Buyer
		c.Buyer = &b
	}
	if s.Seller != nil {
		sl := *s.Seller
		c.Seller = &sl
	}
	if s.Negotiation != nil {
		n := *s.Negotiation
		c.Negotiation = &n
	}
	if s.TradeStartedAt != nil {
		t := *s.TradeStartedAt
		c.TradeStartedAt = &t
	}
	if s.LastDepositRequestAt != nil {
		t := *s.LastDepositRequestAt
		c.LastDepositRequestAt = &t
	}
	return &c
}

// Steps an out-of-order operation is missing, reported with PreconditionFailed.
const (
	StepSession        = "session"
	StepRoles          = "roles"
	StepAsset          = "asset"
	StepNetwork        = "network"
	StepAcceptance     = "acceptance"
	StepDepositAddress = "deposit_address"
	StepNotAccepted    = "accepted"       // trade already accepted
	StepNotAwaiting    = "network_chosen" // decision already pending
)
