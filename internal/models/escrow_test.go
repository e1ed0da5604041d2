package models

import (
	"testing"
	"time"
)

func TestIsValidPhaseTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{PhaseNoRoles, PhaseRolesPartial, true},
		{PhaseRolesPartial, PhaseRolesComplete, true},
		{PhaseRolesComplete, PhaseAssetChosen, true},
		{PhaseAssetChosen, PhaseAwaitingDecision, true},
		{PhaseAwaitingDecision, PhaseAccepted, true},

		// Reject and BACK
		{PhaseAwaitingDecision, PhaseRolesComplete, true},
		{PhaseAwaitingDecision, PhaseAssetChosen, true},
		{PhaseAssetChosen, PhaseAssetChosen, true},

		// Invalid transitions
		{PhaseNoRoles, PhaseAssetChosen, false},
		{PhaseRolesPartial, PhaseAssetChosen, false},
		{PhaseAssetChosen, PhaseAccepted, false},
		{PhaseAccepted, PhaseAssetChosen, false},
		{PhaseAccepted, PhaseRolesComplete, false},
		{"nonexistent", PhaseRolesPartial, false},
		{PhaseNoRoles, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidPhaseTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidPhaseTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestSessionPhase(t *testing.T) {
	buyer := &PartyDeclaration{UserID: 1}
	seller := &PartyDeclaration{UserID: 2}

	tests := []struct {
		name    string
		session EscrowSession
		want    string
	}{
		{"empty", EscrowSession{}, PhaseNoRoles},
		{"seller only", EscrowSession{Seller: seller}, PhaseRolesPartial},
		{"both", EscrowSession{Buyer: buyer, Seller: seller}, PhaseRolesComplete},
		{"asset", EscrowSession{Buyer: buyer, Seller: seller, Negotiation: &Negotiation{State: NegotiationAssetChosen}}, PhaseAssetChosen},
		{"awaiting", EscrowSession{Buyer: buyer, Seller: seller, Negotiation: &Negotiation{State: NegotiationAwaitingDecision}}, PhaseAwaitingDecision},
		{"accepted", EscrowSession{Buyer: buyer, Seller: seller, Negotiation: &Negotiation{State: NegotiationAccepted}}, PhaseAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Phase(); got != tt.want {
				t.Errorf("Phase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCounterparty(t *testing.T) {
	s := &EscrowSession{
		Buyer:  &PartyDeclaration{UserID: 1},
		Seller: &PartyDeclaration{UserID: 2},
	}
	if p, _ := s.Counterparty(); p != nil {
		t.Fatal("expected no counterparty without a negotiation")
	}

	s.Negotiation = &Negotiation{InitiatorUserID: 1}
	if p, role := s.Counterparty(); p.UserID != 2 || role != RoleSeller {
		t.Errorf("buyer-initiated: got %d %s, want seller", p.UserID, role)
	}

	s.Negotiation.InitiatorUserID = 2
	if p, role := s.Counterparty(); p.UserID != 1 || role != RoleBuyer {
		t.Errorf("seller-initiated: got %d %s, want buyer", p.UserID, role)
	}
}

func TestTitleWithTransactionID(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"P2P Escrow", "P2P Escrow By PAGAL Bot (91234567)"},
		{"OTC deal room", "OTC Escrow By PAGAL Bot (91234567)"},
		{"Shoes", "Product Deal Escrow By PAGAL Bot (91234567)"},
		{"P2P Escrow By PAGAL Bot (91234567)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			s := &EscrowSession{Title: tt.title, TransactionID: 91234567}
			if got := s.TitleWithTransactionID("PAGAL Bot"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	s := &EscrowSession{
		Buyer:          &PartyDeclaration{UserID: 1, DisplayName: "a"},
		Negotiation:    &Negotiation{Asset: AssetUSDT},
		TradeStartedAt: &now,
	}
	c := s.Clone()
	c.Buyer.DisplayName = "changed"
	c.Negotiation.Asset = "BTC"
	*c.TradeStartedAt = now.Add(time.Hour)

	if s.Buyer.DisplayName != "a" || s.Negotiation.Asset != AssetUSDT || !s.TradeStartedAt.Equal(now) {
		t.Error("mutating the clone changed the original")
	}
}
