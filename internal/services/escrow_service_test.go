package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireStep(t *testing.T, err error, step string) {
	t.Helper()
	require.ErrorIs(t, err, ErrPreconditionFailed)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, step, pe.Step)
}

func TestDeclareRole_FirstWriterKeepsRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.declare(t, models.RoleBuyer, buyerID, "Alice")
	assert.True(t, first.First)

	_, err := env.escrow.DeclareRole(ctx, testChat, models.RoleBuyer, PartyInput{UserID: outsiderID, DisplayName: "Mallory"})
	require.ErrorIs(t, err, ErrRoleConflict)
	var conflict *RoleConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Alice", conflict.HolderName)

	sess, err := env.sessions.Get(testChat)
	require.NoError(t, err)
	assert.Equal(t, buyerID, sess.Buyer.UserID)

	// The holder may overwrite their own declaration.
	again, err := env.escrow.DeclareRole(ctx, testChat, models.RoleBuyer, PartyInput{UserID: buyerID, DisplayName: "Alice", DepositAddress: "0xdef"})
	require.NoError(t, err)
	assert.False(t, again.First)
	assert.Equal(t, "0xdef", again.Session.Buyer.DepositAddress)
}

func TestDeclareRole_UnknownRole(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.escrow.DeclareRole(context.Background(), testChat, "broker", PartyInput{UserID: buyerID})
	require.Error(t, err)
}

func TestDeclareRole_RenamesGroupOnce(t *testing.T) {
	env := newTestEnv(t)
	opened := env.escrow.OpenSession(context.Background(), testChat, "P2P Escrow")
	require.NotZero(t, opened.TransactionID)

	first := env.declare(t, models.RoleBuyer, buyerID, "Alice")
	assert.False(t, first.Renamed)

	second := env.declare(t, models.RoleSeller, sellerID, "Bob")
	require.True(t, second.Renamed)
	want := "P2P Escrow By PAGAL Bot (" + strconv.FormatInt(opened.TransactionID, 10) + ")"
	assert.Equal(t, want, second.Session.Title)
	assert.True(t, second.Session.GroupRenamed)

	third := env.declare(t, models.RoleSeller, sellerID, "Bob")
	assert.False(t, third.Renamed)
	assert.Equal(t, []string{want}, env.notifier.titles)
}

func TestDeclareRole_RenameFailureIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.escrow.OpenSession(context.Background(), testChat, "OTC Escrow")
	env.notifier.titleErr = errors.New("bot offline")

	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	res := env.declare(t, models.RoleSeller, sellerID, "Bob")
	assert.False(t, res.Renamed)
	assert.False(t, res.Session.GroupRenamed)

	env.notifier.titleErr = nil
	res = env.declare(t, models.RoleSeller, sellerID, "Bob")
	assert.True(t, res.Renamed)
	assert.Contains(t, res.Session.Title, "OTC Escrow By PAGAL Bot")
}

func TestDeclareRole_BioFlag(t *testing.T) {
	env := newTestEnv(t)
	env.escrow.bio = stubBio{"alice": true}
	ctx := context.Background()

	res, err := env.escrow.DeclareRole(ctx, testChat, models.RoleBuyer, PartyInput{UserID: buyerID, Username: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Party.BioFlagPresent)

	bio := "trading via @pagalescrowbot"
	res, err = env.escrow.DeclareRole(ctx, testChat, models.RoleSeller, PartyInput{UserID: sellerID, Bio: &bio})
	require.NoError(t, err)
	assert.True(t, res.Party.BioFlagPresent)

	fee, err := env.escrow.FeeTier(testChat)
	require.NoError(t, err)
	assert.Equal(t, models.FeeTier{BPS: 50, Discounted: true}, fee)
}

func TestFeeTier_Standard(t *testing.T) {
	env := newTestEnv(t)
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")

	fee, err := env.escrow.FeeTier(testChat)
	require.NoError(t, err)
	assert.Equal(t, 100, fee.BPS)
	assert.False(t, fee.Discounted)

	_, err = env.escrow.FeeTier(424242)
	requireStep(t, err, models.StepSession)
}

func TestPromptAsset(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.escrow.PromptAsset(testChat)
	requireStep(t, err, models.StepRoles)

	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	_, err = env.escrow.PromptAsset(testChat)
	requireStep(t, err, models.StepRoles)

	env.declare(t, models.RoleSeller, sellerID, "Bob")
	assets, err := env.escrow.PromptAsset(testChat)
	require.NoError(t, err)
	assert.Equal(t, []string{models.AssetUSDT}, assets)
}

func TestChooseAsset_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	_, err := env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	requireStep(t, err, models.StepRoles)

	env.declare(t, models.RoleSeller, sellerID, "Bob")

	_, err = env.escrow.ChooseAsset(ctx, testChat, outsiderID, models.AssetUSDT)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.escrow.ChooseAsset(ctx, testChat, buyerID, "BTC")
	require.ErrorIs(t, err, ErrUnsupportedPair)

	res, err := env.escrow.ChooseAsset(ctx, testChat, sellerID, models.AssetUSDT)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NetworkBSC, models.NetworkTRON}, res.Networks)
	assert.Equal(t, sellerID, res.Session.Negotiation.InitiatorUserID)
	assert.Equal(t, models.PhaseAssetChosen, res.Session.Phase())
}

func TestChooseNetwork_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")

	_, err := env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkBSC)
	requireStep(t, err, models.StepAsset)

	_, err = env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)

	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, "ETH")
	var unsupported *UnsupportedPairError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "ETH", unsupported.Network)

	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, "USDC", models.NetworkBSC)
	requireStep(t, err, models.StepAsset)

	res, err := env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkTRON)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSeller, res.CounterpartyRole)
	assert.Equal(t, sellerID, res.Counterparty.UserID)

	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkBSC)
	requireStep(t, err, models.StepNotAwaiting)
}

func TestResolveNegotiation_WrongUserLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err := env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)

	_, err = env.escrow.ResolveNegotiation(ctx, testChat, sellerID, true)
	requireStep(t, err, models.StepNetwork)

	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkBSC)
	require.NoError(t, err)
	before, err := env.sessions.Get(testChat)
	require.NoError(t, err)

	for _, user := range []int64{buyerID, outsiderID} {
		_, err = env.escrow.ResolveNegotiation(ctx, testChat, user, true)
		require.ErrorIs(t, err, ErrUnauthorized)
	}

	after, err := env.sessions.Get(testChat)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, models.PhaseAwaitingDecision, after.Phase())
}

func TestResolveNegotiation_SellerInitiatedBuyerDecides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err := env.escrow.ChooseAsset(ctx, testChat, sellerID, models.AssetUSDT)
	require.NoError(t, err)
	_, err = env.escrow.ChooseNetwork(ctx, testChat, sellerID, models.AssetUSDT, models.NetworkBSC)
	require.NoError(t, err)

	_, err = env.escrow.ResolveNegotiation(ctx, testChat, sellerID, true)
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := env.escrow.ResolveNegotiation(ctx, testChat, buyerID, true)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestResolveNegotiation_Accept(t *testing.T) {
	env := newTestEnv(t)
	sess := env.accepted(t, models.NetworkBSC)

	assert.Equal(t, models.PhaseAccepted, sess.Phase())
	assert.GreaterOrEqual(t, sess.TransactionID, int64(repositories.TransactionIDMin))
	assert.LessOrEqual(t, sess.TransactionID, int64(repositories.TransactionIDMax))
	require.NotNil(t, sess.TradeStartedAt)
	assert.Equal(t, env.clock.Add(time.Minute), *sess.TradeStartedAt)

	// No id was pre-assigned, so the rename happens on acceptance.
	assert.True(t, sess.GroupRenamed)
	assert.Len(t, env.notifier.titles, 1)

	sent := env.notifier.messages()
	require.Len(t, sent, 2)
	assert.True(t, sent[0].Msg.Pin)
	assert.Contains(t, sent[0].Msg.Text, strconv.FormatInt(sess.TransactionID, 10))
	assert.Len(t, env.notifier.pinned, 1)
	assert.Contains(t, sent[1].Msg.Text, "1.0%")

	assert.Contains(t, env.publisher.types(), "negotiation_accepted")

	_, err := env.escrow.ResolveNegotiation(context.Background(), testChat, sellerID, true)
	requireStep(t, err, models.StepNotAccepted)
	_, err = env.escrow.ChooseAsset(context.Background(), testChat, buyerID, models.AssetUSDT)
	requireStep(t, err, models.StepNotAccepted)
}

func TestResolveNegotiation_RejectAllowsFreshNegotiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err := env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)
	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkTRON)
	require.NoError(t, err)

	res, err := env.escrow.ResolveNegotiation(ctx, testChat, sellerID, false)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Session.Negotiation)
	assert.Equal(t, models.PhaseRolesComplete, res.Session.Phase())
	assert.NotNil(t, res.Session.Buyer)
	assert.NotNil(t, res.Session.Seller)

	chosen, err := env.escrow.ChooseAsset(ctx, testChat, sellerID, models.AssetUSDT)
	require.NoError(t, err)
	assert.Equal(t, sellerID, chosen.Session.Negotiation.InitiatorUserID)
	assert.Empty(t, chosen.Session.Negotiation.Network)
}

func TestChooseAsset_BackReplacesOpenNegotiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err := env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)
	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkTRON)
	require.NoError(t, err)

	res, err := env.escrow.ChooseAsset(ctx, testChat, sellerID, models.AssetUSDT)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationAssetChosen, res.Session.Negotiation.State)
	assert.Equal(t, sellerID, res.Session.Negotiation.InitiatorUserID)
}

func TestRequestDepositAddress_Order(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	requireStep(t, err, models.StepRoles)

	env.declare(t, models.RoleBuyer, buyerID, "Alice")
	env.declare(t, models.RoleSeller, sellerID, "Bob")
	_, err = env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	requireStep(t, err, models.StepAsset)

	_, err = env.escrow.ChooseAsset(ctx, testChat, buyerID, models.AssetUSDT)
	require.NoError(t, err)
	_, err = env.escrow.ChooseNetwork(ctx, testChat, buyerID, models.AssetUSDT, models.NetworkBSC)
	require.NoError(t, err)
	_, err = env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	requireStep(t, err, models.StepAcceptance)
}

func TestRequestDepositAddress_CooldownKeepsBaseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accepted(t, models.NetworkBSC)
	env.bsc.set(bscAddr, "7")

	issued, err := env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	require.NoError(t, err)
	assert.Equal(t, bscAddr, issued.Address.Address)
	assert.Equal(t, "7", issued.Address.IssuedBaseline.String())
	assert.Equal(t, uint64(1), issued.Address.Generation)
	assert.Equal(t, bscAddr, issued.Session.DepositAddress)

	env.advance(5 * time.Minute)
	env.bsc.set(bscAddr, "9")
	_, err = env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	require.ErrorIs(t, err, ErrThrottled)
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.InDelta(t, 15.0, throttled.RemainingMinutes(), 0.01)

	tracked, ok := env.addresses.Get(bscAddr)
	require.True(t, ok)
	assert.Equal(t, uint64(1), tracked.Generation)
	assert.Equal(t, "7", tracked.IssuedBaseline.String())

	env.advance(15 * time.Minute)
	reissued, err := env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reissued.Address.Generation)
	assert.Equal(t, "9", reissued.Address.IssuedBaseline.String())
}

func TestRequestDepositAddress_BaselineFailureIsPending(t *testing.T) {
	env := newTestEnv(t)
	env.accepted(t, models.NetworkTRON)
	env.tron.fail(ErrLedgerQueryFailed)

	issued, err := env.escrow.RequestDepositAddress(context.Background(), testChat, buyerID)
	require.NoError(t, err)
	assert.True(t, issued.Address.BaselinePending)
	assert.Equal(t, tronAddr, issued.Address.Address)
}

func TestCurrentBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.escrow.CurrentBalance(ctx, testChat)
	requireStep(t, err, models.StepSession)

	env.accepted(t, models.NetworkBSC)
	_, err = env.escrow.CurrentBalance(ctx, testChat)
	requireStep(t, err, models.StepDepositAddress)

	env.bsc.set(bscAddr, "3")
	_, err = env.escrow.RequestDepositAddress(ctx, testChat, buyerID)
	require.NoError(t, err)

	env.bsc.set(bscAddr, "5.5")
	env.monitor.RunCycle(ctx)
	env.advance(4 * time.Minute)

	bal, err := env.escrow.CurrentBalance(ctx, testChat)
	require.NoError(t, err)
	assert.Equal(t, "5.5", bal.Cumulative.String())
	assert.Equal(t, "2.5", bal.ReceivedSinceIssue.String())
	assert.Equal(t, 16*time.Minute, bal.ResetIn)
}
