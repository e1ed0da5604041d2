package services

import (
	"context"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testChat   int64 = -1001
	buyerID    int64 = 11
	sellerID   int64 = 22
	outsiderID int64 = 33
	adminID    int64 = 99
)

var (
	bscAddr  = models.DefaultDepositAddresses[models.Pair{Asset: models.AssetUSDT, Network: models.NetworkBSC}]
	tronAddr = models.DefaultDepositAddresses[models.Pair{Asset: models.AssetUSDT, Network: models.NetworkTRON}]
)

// fakeReader serves a settable total per address.
type fakeReader struct {
	network string

	mu     sync.Mutex
	totals map[string]decimal.Decimal
	err    error
	calls  int

	// afterRead runs once, after a total was captured and before it is returned.
	afterRead func()
}

func newFakeReader(network string) *fakeReader {
	return &fakeReader{network: network, totals: make(map[string]decimal.Decimal)}
}

func (r *fakeReader) Network() string { return r.network }

func (r *fakeReader) Incoming(_ context.Context, address string) (iter.Seq[ledger.Transfer], error) {
	r.mu.Lock()
	r.calls++
	err := r.err
	total := r.totals[address]
	hook := r.afterRead
	r.afterRead = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return slices.Values([]ledger.Transfer(nil)), nil
	}
	return slices.Values([]ledger.Transfer{{To: address, Amount: total}}), nil
}

func (r *fakeReader) onNextRead(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterRead = fn
}

func (r *fakeReader) set(address string, total string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals[address] = decimal.RequireFromString(total)
}

func (r *fakeReader) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type sentMessage struct {
	ChatID int64
	Msg    messages.Message
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	pinned   []int64
	titles   []string
	titleErr error
	nextID   int64
}

func (n *recordingNotifier) SendMessage(_ context.Context, chatID int64, msg messages.Message) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Msg: msg})
	return n.nextID, nil
}

func (n *recordingNotifier) PinMessage(_ context.Context, _ int64, messageID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pinned = append(n.pinned, messageID)
	return nil
}

func (n *recordingNotifier) SetGroupTitle(_ context.Context, _ int64, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.titleErr != nil {
		return n.titleErr
	}
	n.titles = append(n.titles, title)
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mockGroupAdmin struct {
	mock.Mock
}

func (m *mockGroupAdmin) CreateInviteLink(ctx context.Context, chatID int64) (string, error) {
	args := m.Called(ctx, chatID)
	return args.String(0), args.Error(1)
}

func (m *mockGroupAdmin) BanMember(ctx context.Context, chatID, userID int64) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *mockGroupAdmin) PromoteMember(ctx context.Context, chatID, userID int64) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

type stubBio map[string]bool

func (s stubBio) HasTag(_ context.Context, username string) (bool, error) {
	return s[username], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Brand:               "PAGAL Bot",
		BotBioTag:           "@PagaLEscrowBot",
		LedgerTimeout:       time.Second,
		EscrowAddresses:     models.DefaultDepositAddresses,
		DepositCooldown:     20 * time.Minute,
		TradeStartGrace:     time.Minute,
		MonitorInterval:     time.Second,
		MonitorConcurrency:  4,
		MonitorFailureAlert: 10,
		FeeStandardBPS:      100,
		FeeDiscountBPS:      50,
		AdminTelegramIDs:    []int64{adminID},
	}
}

type testEnv struct {
	cfg       *config.Config
	sessions  *repositories.SessionRepo
	addresses *repositories.AddressRepo
	bsc       *fakeReader
	tron      *fakeReader
	notifier  *recordingNotifier
	publisher *recordingPublisher
	escrow    *EscrowService
	monitor   *DepositMonitor
	clock     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg:       testConfig(),
		sessions:  repositories.NewSessionRepo(),
		addresses: repositories.NewAddressRepo(),
		bsc:       newFakeReader(models.NetworkBSC),
		tron:      newFakeReader(models.NetworkTRON),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	readers := ledger.NewReaders(env.bsc, env.tron)
	m := metrics.NewUnregistered()
	log := zap.NewNop()

	env.escrow = NewEscrowService(env.sessions, env.addresses, repositories.NewAuditRepo(nil), readers,
		env.notifier, stubBio{}, env.publisher, m, env.cfg, log)
	env.escrow.now = func() time.Time { return env.clock }

	env.monitor = NewDepositMonitor(env.addresses, readers, env.notifier, env.publisher, m, env.cfg, log)
	env.monitor.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func (e *testEnv) declare(t *testing.T, role string, userID int64, name string) *RoleDeclared {
	t.Helper()
	bio := ""
	res, err := e.escrow.DeclareRole(context.Background(), testChat, role, PartyInput{
		UserID:         userID,
		DisplayName:    name,
		DepositAddress: "0xabc",
		Bio:            &bio,
	})
	require.NoError(t, err)
	return res
}

// accepted drives a session to an accepted USDT/network trade, with the buyer
// initiating and the seller accepting.
func (e *testEnv) accepted(t *testing.T, network string) *models.EscrowSession {
	t.Helper()
	ctx := context.Background()
	e.declare(t, models.RoleBuyer, buyerID, "Alice")
	e.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err := e.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)
	_, err = e.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, network)
	require.NoError(t, err)
	res, err := e.escrow.ResolveNegotiation(ctx, testChat, sellerID, true)
	require.NoError(t, err)
	return res.Session
}
