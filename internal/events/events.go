package events

import (
	"context"
	"encoding/json"
)

// Streams
const (
	StreamEscrow = "events:escrow"
	StreamBot    = "events:bot"
)

// Escrow event types
const (
	EventSessionOpened       = "session_opened"
	EventRoleDeclared        = "role_declared"
	EventGroupRenamed        = "group_renamed"
	EventAssetChosen         = "asset_chosen"
	EventNetworkChosen       = "network_chosen"
	EventNegotiationAccepted = "negotiation_accepted"
	EventNegotiationRejected = "negotiation_rejected"
	EventDepositIssued       = "deposit_address_issued"
	EventDepositDetected     = "deposit_detected"
	EventLedgerUnavailable   = "ledger_unavailable"
	EventDisputeRaised       = "dispute_raised"
	EventMemberBanned        = "member_banned"
)

// Bot delivery operations queued on StreamBot
const (
	BotOpSend  = "send"
	BotOpPin   = "pin"
	BotOpTitle = "title"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Decode copies an event payload into a typed value.
func Decode(e Event, v any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
