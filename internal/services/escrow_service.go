package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowService runs the role and negotiation state machine of every chat,
// issues deposit addresses and answers balance queries from the monitor's
// cached state.
type EscrowService struct {
	sessions  *repositories.SessionRepo
	addresses *repositories.AddressRepo
	auditRepo *repositories.AuditRepo
	readers   ledger.Readers
	notifier  Notifier
	bio       BioLookup
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewEscrowService(
	sessions *repositories.SessionRepo,
	addresses *repositories.AddressRepo,
	auditRepo *repositories.AuditRepo,
	readers ledger.Readers,
	notifier Notifier,
	bio BioLookup,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		sessions:  sessions,
		addresses: addresses,
		auditRepo: auditRepo,
		readers:   readers,
		notifier:  notifier,
		bio:       bio,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// PartyInput is a role declaration as received from the chat.
type PartyInput struct {
	UserID         int64
	Username       string
	DisplayName    string
	DepositAddress string
	Bio            *string // set when the bot already knows the bio
	ChatTitle      string
}

type RoleDeclared struct {
	Session *models.EscrowSession
	Role    string
	Party   *models.PartyDeclaration
	First   bool // the role had no holder before
	Renamed bool
}

type AssetChosen struct {
	Session  *models.EscrowSession
	Networks []string
}

type NetworkChosen struct {
	Session          *models.EscrowSession
	Counterparty     *models.PartyDeclaration
	CounterpartyRole string
}

type Resolution struct {
	Session  *models.EscrowSession
	Accepted bool
	Fee      models.FeeTier
}

type DepositIssued struct {
	Session *models.EscrowSession
	Address models.MonitoredAddress
	ResetIn time.Duration
}

type Balance struct {
	Session            *models.EscrowSession
	Address            models.MonitoredAddress
	Cumulative         decimal.Decimal
	ReceivedSinceIssue decimal.Decimal
	ResetIn            time.Duration
}

// OpenSession registers a newly created escrow group and pre-assigns its
// transaction id.
func (s *EscrowService) OpenSession(ctx context.Context, chatID int64, title string) *models.EscrowSession {
	sess := s.sessions.Open(chatID, title)
	s.record(ctx, chatID, nil, events.EventSessionOpened, map[string]any{
		"title":          sess.Title,
		"transaction_id": sess.TransactionID,
	})
	return sess
}

// DeclareRole records a buyer or seller declaration. A role belongs to the
// first user who declares it; only that user may overwrite it.
func (s *EscrowService) DeclareRole(ctx context.Context, chatID int64, role string, in PartyInput) (*RoleDeclared, error) {
	if role != models.RoleBuyer && role != models.RoleSeller {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	party := &models.PartyDeclaration{
		UserID:         in.UserID,
		DisplayName:    in.DisplayName,
		DepositAddress: in.DepositAddress,
		BioFlagPresent: s.bioFlag(ctx, in),
	}

	var first, renamed bool
	sess, err := s.sessions.Update(chatID, func(sess *models.EscrowSession) error {
		if in.ChatTitle != "" && !sess.GroupRenamed {
			sess.Title = in.ChatTitle
		}
		if held := sess.Party(role); held != nil && held.UserID != in.UserID {
			return &RoleConflictError{Role: role, HolderName: held.DisplayName}
		} else if held == nil {
			first = true
		}
		sess.SetParty(role, party)
		renamed = s.renameGroup(ctx, sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	actor := in.UserID
	s.record(ctx, chatID, &actor, events.EventRoleDeclared, map[string]any{
		"role":        role,
		"user_id":     in.UserID,
		"first":       first,
		"bio_flagged": party.BioFlagPresent,
	})
	if renamed {
		s.record(ctx, chatID, nil, events.EventGroupRenamed, map[string]any{"title": sess.Title})
	}

	return &RoleDeclared{Session: sess, Role: role, Party: party, First: first, Renamed: renamed}, nil
}

// PromptAsset checks the session is ready for an asset choice and returns the
// assets on offer.
func (s *EscrowService) PromptAsset(chatID int64) ([]string, error) {
	sess, err := s.sessions.Get(chatID)
	if err != nil {
		return nil, precondition(models.StepRoles)
	}
	if !sess.RolesComplete() {
		return nil, precondition(models.StepRoles)
	}
	if sess.Phase() == models.PhaseAccepted {
		return nil, precondition(models.StepNotAccepted)
	}
	return slices.Sorted(maps.Keys(models.SupportedNetworks)), nil
}

// ChooseAsset starts a negotiation initiated by userID. Choosing again before
// acceptance replaces the open negotiation with a fresh one.
func (s *EscrowService) ChooseAsset(ctx context.Context, chatID, userID int64, asset string) (*AssetChosen, error) {
	networks, supported := models.NetworksFor(asset)

	sess, err := s.sessions.Update(chatID, func(sess *models.EscrowSession) error {
		if !sess.RolesComplete() {
			return precondition(models.StepRoles)
		}
		if !models.IsValidPhaseTransition(sess.Phase(), models.PhaseAssetChosen) {
			return precondition(models.StepNotAccepted)
		}
		if !isParty(sess, userID) {
			return ErrUnauthorized
		}
		if !supported {
			return &UnsupportedPairError{Asset: asset}
		}
		sess.Negotiation = &models.Negotiation{
			Asset:           asset,
			InitiatorUserID: userID,
			State:           models.NegotiationAssetChosen,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	actor := userID
	s.record(ctx, chatID, &actor, events.EventAssetChosen, map[string]any{"asset": asset})
	return &AssetChosen{Session: sess, Networks: networks}, nil
}

// ChooseNetwork completes the proposal and hands the decision to the
// counterparty of the initiator. asset, when set, must match the open
// negotiation; a mismatch means the menu was stale.
func (s *EscrowService) ChooseNetwork(ctx context.Context, chatID, userID int64, asset, network string) (*NetworkChosen, error) {
	sess, err := s.sessions.Update(chatID, func(sess *models.EscrowSession) error {
		n := sess.Negotiation
		switch {
		case !sess.RolesComplete():
			return precondition(models.StepRoles)
		case n == nil:
			return precondition(models.StepAsset)
		case n.State == models.NegotiationAccepted:
			return precondition(models.StepNotAccepted)
		case n.State == models.NegotiationAwaitingDecision:
			return precondition(models.StepNotAwaiting)
		case asset != "" && asset != n.Asset:
			return precondition(models.StepAsset)
		}
		if !isParty(sess, userID) {
			return ErrUnauthorized
		}
		if !models.IsSupportedPair(n.Asset, network) {
			return &UnsupportedPairError{Asset: n.Asset, Network: network}
		}
		n.Network = network
		n.State = models.NegotiationAwaitingDecision
		return nil
	})
	if err != nil {
		return nil, err
	}

	cp, cpRole := sess.Counterparty()
	actor := userID
	s.record(ctx, chatID, &actor, events.EventNetworkChosen, map[string]any{
		"asset":             sess.Negotiation.Asset,
		"network":           network,
		"counterparty_role": cpRole,
	})
	return &NetworkChosen{Session: sess, Counterparty: cp, CounterpartyRole: cpRole}, nil
}

// ResolveNegotiation applies the counterparty's decision. Accept fixes the
// transaction id and trade start; reject discards the negotiation and keeps
// the roles.
func (s *EscrowService) ResolveNegotiation(ctx context.Context, chatID, userID int64, accept bool) (*Resolution, error) {
	var renamed bool
	sess, err := s.sessions.Update(chatID, func(sess *models.EscrowSession) error {
		n := sess.Negotiation
		switch {
		case n == nil:
			return precondition(models.StepAsset)
		case n.State == models.NegotiationAccepted:
			return precondition(models.StepNotAccepted)
		case n.State != models.NegotiationAwaitingDecision:
			return precondition(models.StepNetwork)
		}
		cp, _ := sess.Counterparty()
		if cp == nil {
			return precondition(models.StepRoles)
		}
		if cp.UserID != userID {
			return ErrUnauthorized
		}

		if !accept {
			sess.Negotiation = nil
			return nil
		}
		if sess.TransactionID == 0 {
			sess.TransactionID = s.sessions.NewTransactionID(sess.ChatID)
		}
		start := s.now().Add(s.cfg.TradeStartGrace)
		sess.TradeStartedAt = &start
		n.State = models.NegotiationAccepted
		renamed = s.renameGroup(ctx, sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	actor := userID
	if !accept {
		s.record(ctx, chatID, &actor, events.EventNegotiationRejected, nil)
		return &Resolution{Session: sess}, nil
	}

	fee := models.FeeTierFor(sess.Buyer, sess.Seller, s.cfg.FeeStandardBPS, s.cfg.FeeDiscountBPS)
	s.record(ctx, chatID, &actor, events.EventNegotiationAccepted, map[string]any{
		"asset":          sess.Negotiation.Asset,
		"network":        sess.Negotiation.Network,
		"transaction_id": sess.TransactionID,
		"fee_bps":        fee.BPS,
	})
	if renamed {
		s.record(ctx, chatID, nil, events.EventGroupRenamed, map[string]any{"title": sess.Title})
	}

	deliver(ctx, s.notifier, s.log, chatID, messages.TransactionInfo(sess))
	deliver(ctx, s.notifier, s.log, chatID, messages.FeeTier(fee, s.cfg.BotBioTag))

	return &Resolution{Session: sess, Accepted: true, Fee: fee}, nil
}

// FeeTier is derived from the declarations on every call.
func (s *EscrowService) FeeTier(chatID int64) (models.FeeTier, error) {
	sess, err := s.sessions.Get(chatID)
	if err != nil {
		return models.FeeTier{}, precondition(models.StepSession)
	}
	return models.FeeTierFor(sess.Buyer, sess.Seller, s.cfg.FeeStandardBPS, s.cfg.FeeDiscountBPS), nil
}

// RequestDepositAddress issues the escrow address of the accepted pair and
// starts monitoring it, baselined at the ledger's current total.
func (s *EscrowService) RequestDepositAddress(ctx context.Context, chatID, userID int64) (*DepositIssued, error) {
	var tracked models.MonitoredAddress
	sess, err := s.sessions.Update(chatID, func(sess *models.EscrowSession) error {
		if sess.Phase() != models.PhaseAccepted {
			switch {
			case !sess.RolesComplete():
				return precondition(models.StepRoles)
			case sess.Negotiation == nil:
				return precondition(models.StepAsset)
			default:
				return precondition(models.StepAcceptance)
			}
		}

		now := s.now()
		if last := sess.LastDepositRequestAt; last != nil {
			if elapsed := now.Sub(*last); elapsed < s.cfg.DepositCooldown {
				return &ThrottledError{Remaining: s.cfg.DepositCooldown - elapsed, Cooldown: s.cfg.DepositCooldown}
			}
		}

		pair := models.Pair{Asset: sess.Negotiation.Asset, Network: sess.Negotiation.Network}
		addr, ok := s.cfg.EscrowAddress(pair)
		if !ok {
			return &UnsupportedPairError{Asset: pair.Asset, Network: pair.Network}
		}

		baseline, err := s.ledgerTotal(ctx, pair.Network, addr)
		if err != nil {
			s.log.Warn("baseline fetch failed, first observation becomes the baseline",
				zap.Int64("chat_id", chatID),
				zap.String("address", addr),
				zap.String("network", pair.Network),
				zap.Error(err),
			)
		}
		tracked = s.addresses.Track(models.MonitoredAddress{
			Address:                  addr,
			Network:                  pair.Network,
			Asset:                    pair.Asset,
			ChatID:                   chatID,
			CumulativeObservedAmount: baseline,
			BaselinePending:          err != nil,
			IssuedAt:                 now,
		})

		sess.DepositAddress = addr
		sess.LastDepositRequestAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	actor := userID
	s.record(ctx, chatID, &actor, events.EventDepositIssued, map[string]any{
		"address":          tracked.Address,
		"network":          tracked.Network,
		"baseline":         tracked.IssuedBaseline.String(),
		"baseline_pending": tracked.BaselinePending,
		"generation":       tracked.Generation,
	})

	return &DepositIssued{Session: sess, Address: tracked, ResetIn: s.cfg.DepositCooldown}, nil
}

// CurrentBalance reads the monitor's cached figures; it never calls the ledger.
func (s *EscrowService) CurrentBalance(ctx context.Context, chatID int64) (*Balance, error) {
	sess, err := s.sessions.Get(chatID)
	if err != nil {
		return nil, precondition(models.StepSession)
	}
	n := sess.Negotiation
	if n == nil || n.Network == "" {
		return nil, precondition(models.StepAsset)
	}
	if sess.DepositAddress == "" {
		return nil, precondition(models.StepDepositAddress)
	}

	pair := models.Pair{Asset: n.Asset, Network: n.Network}
	addr, ok := s.cfg.EscrowAddress(pair)
	if !ok {
		return nil, &UnsupportedPairError{Asset: pair.Asset, Network: pair.Network}
	}
	m, ok := s.addresses.Get(addr)
	if !ok {
		return nil, precondition(models.StepDepositAddress)
	}

	var resetIn time.Duration
	if last := sess.LastDepositRequestAt; last != nil {
		resetIn = max(s.cfg.DepositCooldown-s.now().Sub(*last), 0)
	}

	return &Balance{
		Session:            sess,
		Address:            m,
		Cumulative:         m.CumulativeObservedAmount,
		ReceivedSinceIssue: m.ReceivedSinceIssue(),
		ResetIn:            resetIn,
	}, nil
}

func (s *EscrowService) GetSession(chatID int64) (*models.EscrowSession, error) {
	return s.sessions.Get(chatID)
}

func (s *EscrowService) ListSessions() []*models.EscrowSession {
	return s.sessions.List()
}

func (s *EscrowService) ListAddresses() []models.MonitoredAddress {
	return s.addresses.Snapshot()
}

func (s *EscrowService) AuditTrail(ctx context.Context, chatID int64, limit, offset int) ([]models.EscrowAudit, error) {
	return s.auditRepo.GetByChat(ctx, chatID, limit, offset)
}

// renameGroup applies the transaction id to the group title once both roles
// are known. A sink failure leaves the session unrenamed so a later call
// retries.
func (s *EscrowService) renameGroup(ctx context.Context, sess *models.EscrowSession) bool {
	if !sess.RolesComplete() || sess.GroupRenamed || sess.TransactionID == 0 {
		return false
	}
	title := sess.TitleWithTransactionID(s.cfg.Brand)
	if title == "" {
		sess.GroupRenamed = true
		return false
	}
	if err := s.notifier.SetGroupTitle(ctx, sess.ChatID, title); err != nil {
		s.log.Warn("group rename failed", zap.Int64("chat_id", sess.ChatID), zap.Error(err))
		return false
	}
	sess.Title = title
	sess.GroupRenamed = true
	return true
}

func (s *EscrowService) bioFlag(ctx context.Context, in PartyInput) bool {
	if in.Bio != nil {
		return ContainsTag(*in.Bio, s.cfg.BotBioTag)
	}
	if s.bio == nil || in.Username == "" {
		return false
	}
	ok, err := s.bio.HasTag(ctx, in.Username)
	if err != nil {
		s.log.Debug("bio lookup failed", zap.String("username", in.Username), zap.Error(err))
		return false
	}
	return ok
}

func (s *EscrowService) ledgerTotal(ctx context.Context, network, address string) (decimal.Decimal, error) {
	reader, ok := s.readers.For(network)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no reader for %s", ErrLedgerQueryFailed, network)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	total, err := ledger.Total(ctx, reader, address)
	s.countQuery(network, err)
	return total, err
}

func (s *EscrowService) countQuery(network string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	s.metrics.LedgerQueries.WithLabelValues(network, result).Inc()
}

// record appends an audit row and publishes the matching escrow event.
func (s *EscrowService) record(ctx context.Context, chatID int64, actor *int64, action string, meta map[string]any) {
	actorType := models.ActorSystem
	if actor != nil {
		actorType = models.ActorUser
	}
	if err := s.auditRepo.Log(ctx, models.EscrowAudit{
		ChatID:      chatID,
		ActorUserID: actor,
		ActorType:   actorType,
		Action:      action,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.Int64("chat_id", chatID), zap.String("action", action), zap.Error(err))
	}

	payload := map[string]any{"chat_id": chatID}
	maps.Copy(payload, meta)
	publish(ctx, s.publisher, s.log, events.Event{Type: action, Payload: payload})
}

func isParty(sess *models.EscrowSession, userID int64) bool {
	return (sess.Buyer != nil && sess.Buyer.UserID == userID) ||
		(sess.Seller != nil && sess.Seller.UserID == userID)
}
