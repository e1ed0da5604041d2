// Package ledger reads incoming token transfer history of escrow addresses
// from public chain indexers.
package ledger

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// ErrQueryFailed marks a transient indexer failure (network, timeout, bad
// response). Callers skip the address and try again later.
var ErrQueryFailed = errors.New("ledger query failed")

// Transfer is one incoming token transfer, already scaled to token units.
type Transfer struct {
	TxID      string          `json:"tx_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Reader returns the incoming transfer history of an address on one network.
// A reader without credentials yields an empty sequence and no error.
// Incoming fetches the whole history before returning, so every indexer
// failure surfaces as its error; the sequence only walks fetched transfers.
type Reader interface {
	Network() string
	Incoming(ctx context.Context, address string) (iter.Seq[Transfer], error)
}

// Sum adds up every transfer of a sequence.
func Sum(transfers iter.Seq[Transfer]) decimal.Decimal {
	total := decimal.Zero
	for t := range transfers {
		total = total.Add(t.Amount)
	}
	return total
}

// Total fetches and sums the incoming history of an address.
func Total(ctx context.Context, r Reader, address string) (decimal.Decimal, error) {
	seq, err := r.Incoming(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(seq), nil
}

// Readers maps a network name to its reader.
type Readers map[string]Reader

func NewReaders(readers ...Reader) Readers {
	out := make(Readers, len(readers))
	for _, r := range readers {
		out[r.Network()] = r
	}
	return out
}

func (rs Readers) For(network string) (Reader, bool) {
	r, ok := rs[network]
	return r, ok
}

// scale converts a raw integer amount string to token units.
func scale(raw string, decimals int32) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Shift(-decimals), nil
}
