package repositories

import (
	"sort"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

// AddressRepo holds the monitored escrow addresses, keyed by address.
// Every write goes through one lock, so a re-issuance and a monitor commit on
// the same address never interleave.
type AddressRepo struct {
	mu      sync.Mutex
	entries map[string]*models.MonitoredAddress
}

func NewAddressRepo() *AddressRepo {
	return &AddressRepo{entries: make(map[string]*models.MonitoredAddress)}
}

// Observation is the outcome of committing one ledger reading.
type Observation struct {
	Delta    decimal.Decimal
	Total    decimal.Decimal
	ChatID   int64
	Announce bool
}

// Track starts (or restarts) monitoring of an address for a chat. The new entry
// gets the next generation, which invalidates readings taken for the old one.
// The baseline never drops below what was already committed for the address:
// a monitor cycle may have announced a deposit after the caller read its
// baseline, and that deposit must not be announced again.
func (r *AddressRepo) Track(m models.MonitoredAddress) models.MonitoredAddress {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.entries[m.Address]
	if exists {
		m.Generation = old.Generation + 1
	} else {
		m.Generation = 1
	}
	m.ConsecutiveFailures = 0
	m.LastPolledAt = nil
	if m.BaselinePending {
		m.CumulativeObservedAmount = decimal.Zero
		m.IssuedBaseline = decimal.Zero
	} else {
		if exists && !old.BaselinePending && old.CumulativeObservedAmount.GreaterThan(m.CumulativeObservedAmount) {
			m.CumulativeObservedAmount = old.CumulativeObservedAmount
		}
		m.IssuedBaseline = m.CumulativeObservedAmount
	}
	stored := m
	r.entries[m.Address] = &stored
	return stored
}

func (r *AddressRepo) Get(address string) (models.MonitoredAddress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[address]
	if !ok {
		return models.MonitoredAddress{}, false
	}
	return *m, true
}

// Snapshot copies every entry; the monitor works from the copy.
func (r *AddressRepo) Snapshot() []models.MonitoredAddress {
	r.mu.Lock()
	out := make([]models.MonitoredAddress, 0, len(r.entries))
	for _, m := range r.entries {
		out = append(out, *m)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Observe commits a ledger total read for the given generation. A reading for
// an older generation is dropped (ok=false). A pending baseline absorbs the
// first reading without announcing it.
func (r *AddressRepo) Observe(address string, generation uint64, total decimal.Decimal, at time.Time) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.entries[address]
	if !ok || m.Generation != generation {
		return Observation{}, false
	}

	polled := at
	m.LastPolledAt = &polled
	m.ConsecutiveFailures = 0

	obs := Observation{Total: m.CumulativeObservedAmount, ChatID: m.ChatID}
	if m.BaselinePending {
		m.BaselinePending = false
		m.CumulativeObservedAmount = total
		m.IssuedBaseline = total
		obs.Total = total
		return obs, true
	}
	if total.GreaterThan(m.CumulativeObservedAmount) {
		obs.Delta = total.Sub(m.CumulativeObservedAmount)
		obs.Total = total
		obs.Announce = true
		m.CumulativeObservedAmount = total
	}
	return obs, true
}

// RecordFailure counts a failed reading and returns the consecutive count,
// or 0 when the generation is stale.
func (r *AddressRepo) RecordFailure(address string, generation uint64, at time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.entries[address]
	if !ok || m.Generation != generation {
		return 0
	}
	polled := at
	m.LastPolledAt = &polled
	m.ConsecutiveFailures++
	return m.ConsecutiveFailures
}
