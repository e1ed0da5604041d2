package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredAddress is an escrow address under balance polling.
// ChatID is a back-reference to the session that last requested it.
type MonitoredAddress struct {
	Address                  string          `json:"address"`
	Network                  string          `json:"network"`
	Asset                    string          `json:"asset"`
	ChatID                   int64           `json:"chat_id"`
	CumulativeObservedAmount decimal.Decimal `json:"cumulative_observed_amount"`
	IssuedBaseline           decimal.Decimal `json:"issued_baseline"`
	BaselinePending          bool            `json:"baseline_pending"`
	Generation               uint64          `json:"generation"`
	ConsecutiveFailures      int             `json:"consecutive_failures"`
	IssuedAt                 time.Time       `json:"issued_at"`
	LastPolledAt             *time.Time      `json:"last_polled_at,omitempty"`
}

// ReceivedSinceIssue is what arrived after the address was handed out.
func (m *MonitoredAddress) ReceivedSinceIssue() decimal.Decimal {
	d := m.CumulativeObservedAmount.Sub(m.IssuedBaseline)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// DepositDetected is emitted when a monitored address total grows.
type DepositDetected struct {
	ChatID             int64           `json:"chat_id"`
	Address            string          `json:"address"`
	Asset              string          `json:"asset"`
	Network            string          `json:"network"`
	AmountDelta        decimal.Decimal `json:"amount_delta"`
	NewCumulativeTotal decimal.Decimal `json:"new_cumulative_total"`
	DetectedAt         time.Time       `json:"detected_at"`
}
