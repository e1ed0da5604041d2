package services

import (
	"context"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DepositMonitor polls the ledger for every monitored address and announces
// total increases to the owning chat.
type DepositMonitor struct {
	addresses *repositories.AddressRepo
	readers   ledger.Readers
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewDepositMonitor(
	addresses *repositories.AddressRepo,
	readers ledger.Readers,
	notifier Notifier,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *DepositMonitor {
	return &DepositMonitor{
		addresses: addresses,
		readers:   readers,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run executes a cycle every MonitorInterval until ctx is done.
func (m *DepositMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	m.log.Info("deposit monitor started",
		zap.Duration("interval", m.cfg.MonitorInterval),
		zap.Int("concurrency", m.cfg.MonitorConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("deposit monitor stopped")
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle reads every address once. A failing address is skipped until the
// next cycle; the others are unaffected. Running a cycle twice with unchanged
// ledger totals announces nothing the second time.
func (m *DepositMonitor) RunCycle(ctx context.Context) []models.DepositDetected {
	start := time.Now()
	snapshot := m.addresses.Snapshot()

	var (
		mu       sync.Mutex
		detected []models.DepositDetected
	)

	g := new(errgroup.Group)
	g.SetLimit(max(m.cfg.MonitorConcurrency, 1))
	for _, addr := range snapshot {
		g.Go(func() error {
			if d, ok := m.poll(ctx, addr); ok {
				mu.Lock()
				detected = append(detected, d)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if m.metrics != nil {
		m.metrics.MonitorCycles.Inc()
		m.metrics.MonitoredAddresses.Set(float64(len(snapshot)))
		m.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	return detected
}

func (m *DepositMonitor) poll(ctx context.Context, addr models.MonitoredAddress) (models.DepositDetected, bool) {
	log := m.log.With(
		zap.String("address", addr.Address),
		zap.String("network", addr.Network),
		zap.Uint64("generation", addr.Generation),
	)

	reader, ok := m.readers.For(addr.Network)
	if !ok {
		log.Warn("no ledger reader for network")
		return models.DepositDetected{}, false
	}

	qctx, cancel := context.WithTimeout(ctx, m.cfg.LedgerTimeout)
	total, err := ledger.Total(qctx, reader, addr.Address)
	cancel()
	m.countQuery(addr.Network, err)

	if err != nil {
		failures := m.addresses.RecordFailure(addr.Address, addr.Generation, m.now())
		log.Warn("ledger query failed", zap.Int("consecutive_failures", failures), zap.Error(err))
		if failures > 0 && failures == m.cfg.MonitorFailureAlert {
			deliver(ctx, m.notifier, m.log, addr.ChatID, messages.LedgerUnavailable(addr.Network, addr.Address, failures))
			publish(ctx, m.publisher, log, events.Event{
				Type: events.EventLedgerUnavailable,
				Payload: map[string]any{
					"chat_id":  addr.ChatID,
					"address":  addr.Address,
					"network":  addr.Network,
					"failures": failures,
				},
			})
		}
		return models.DepositDetected{}, false
	}

	at := m.now()
	obs, ok := m.addresses.Observe(addr.Address, addr.Generation, total, at)
	if !ok {
		log.Debug("dropped reading for superseded address generation")
		return models.DepositDetected{}, false
	}
	if !obs.Announce {
		return models.DepositDetected{}, false
	}

	d := models.DepositDetected{
		ChatID:             obs.ChatID,
		Address:            addr.Address,
		Asset:              addr.Asset,
		Network:            addr.Network,
		AmountDelta:        obs.Delta,
		NewCumulativeTotal: obs.Total,
		DetectedAt:         at,
	}
	log.Info("deposit detected",
		zap.Int64("chat_id", d.ChatID),
		zap.String("delta", d.AmountDelta.String()),
		zap.String("total", d.NewCumulativeTotal.String()),
	)

	deliver(ctx, m.notifier, m.log, d.ChatID, messages.DepositConfirmed(d))
	publish(ctx, m.publisher, log, events.Event{
		Type: events.EventDepositDetected,
		Payload: map[string]any{
			"chat_id": d.ChatID,
			"address": d.Address,
			"asset":   d.Asset,
			"network": d.Network,
			"delta":   d.AmountDelta.String(),
			"total":   d.NewCumulativeTotal.String(),
		},
	})
	if m.metrics != nil {
		m.metrics.DepositsDetected.WithLabelValues(d.Network).Inc()
	}
	return d, true
}

func (m *DepositMonitor) countQuery(network string, err error) {
	if m.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.LedgerQueries.WithLabelValues(network, result).Inc()
}
