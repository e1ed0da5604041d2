package commands

import (
	"context"
	"errors"

	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Response tells the bot what to do with the update it forwarded.
type Response struct {
	Replies   []messages.Message `json:"replies,omitempty"`
	Edit      *messages.Message  `json:"edit,omitempty"`   // replaces the message carrying the pressed button
	Delete    bool               `json:"delete,omitempty"` // removes that message
	Alert     string             `json:"alert,omitempty"`  // callback answer
	ShowAlert bool               `json:"show_alert,omitempty"`
}

func reply(msgs ...messages.Message) Response { return Response{Replies: msgs} }

func edit(msg messages.Message) Response { return Response{Edit: &msg} }

type Dispatcher struct {
	escrow     *services.EscrowService
	moderation *services.ModerationService
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewDispatcher(escrow *services.EscrowService, moderation *services.ModerationService, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{escrow: escrow, moderation: moderation, metrics: m, log: log}
}

// Dispatch runs a command and renders its outcome. Errors never escape: each
// one becomes a reply or a callback alert for the sender.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Response {
	resp, err := d.dispatch(ctx, cmd)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		resp = d.fromError(cmd, err)
		if !isDomainError(err) {
			outcome = "error"
			o := cmd.From()
			d.log.Error("command failed",
				zap.String("command", cmd.Name()),
				zap.Int64("chat_id", o.ChatID),
				zap.Int64("user_id", o.UserID),
				zap.Error(err),
			)
		}
	}
	if d.metrics != nil {
		d.metrics.Commands.WithLabelValues(cmd.Name(), outcome).Inc()
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) (Response, error) {
	switch c := cmd.(type) {
	case DeclareRole:
		if !c.InGroup() {
			return reply(messages.GroupOnly()), nil
		}
		if c.Address == "" {
			return reply(messages.DeclareUsage(c.Role)), nil
		}
		res, err := d.escrow.DeclareRole(ctx, c.ChatID, c.Role, services.PartyInput{
			UserID:         c.UserID,
			Username:       c.Username,
			DisplayName:    c.DisplayName,
			DepositAddress: c.Address,
			Bio:            c.Bio,
			ChatTitle:      c.ChatTitle,
		})
		if err != nil {
			return Response{}, err
		}
		resp := reply(messages.RoleDeclared(res.Role, res.Party))
		if res.First {
			resp.Replies = append(resp.Replies, messages.NextStep(res.Session))
		}
		return resp, nil

	case PromptAsset:
		assets, err := d.escrow.PromptAsset(c.ChatID)
		if err != nil {
			return Response{}, err
		}
		return reply(messages.AssetMenu(assets)), nil

	case BackToAsset:
		assets, err := d.escrow.PromptAsset(c.ChatID)
		if err != nil {
			return Response{}, err
		}
		return edit(messages.AssetMenu(assets)), nil

	case ChooseAsset:
		res, err := d.escrow.ChooseAsset(ctx, c.ChatID, c.UserID, c.Asset)
		if err != nil {
			return Response{}, err
		}
		return edit(messages.NetworkMenu(c.Asset, res.Networks)), nil

	case ChooseNetwork:
		res, err := d.escrow.ChooseNetwork(ctx, c.ChatID, c.UserID, c.Asset, c.Network)
		if err != nil {
			return Response{}, err
		}
		return edit(messages.DeclarationForConfirmation(res.CounterpartyRole, res.Counterparty, res.Session.Negotiation)), nil

	case Resolve:
		res, err := d.escrow.ResolveNegotiation(ctx, c.ChatID, c.UserID, c.Accept)
		if err != nil {
			return Response{}, err
		}
		if !res.Accepted {
			return Response{Delete: true, Alert: messages.AlertRejected}, nil
		}
		resp := edit(messages.FinalDeclaration(res.Session))
		resp.Alert = messages.AlertAccepted
		return resp, nil

	case RequestDeposit:
		issued, err := d.escrow.RequestDepositAddress(ctx, c.ChatID, c.UserID)
		if err != nil {
			return Response{}, err
		}
		return reply(messages.DepositInfo(messages.DepositView{
			Session:  issued.Session,
			Address:  issued.Address.Address,
			Received: decimal.Zero,
			ResetIn:  issued.ResetIn,
		})), nil

	case CheckBalance:
		bal, err := d.escrow.CurrentBalance(ctx, c.ChatID)
		if err != nil {
			return Response{}, err
		}
		return reply(messages.Balance(bal.Cumulative)), nil

	case CheckPayment:
		bal, err := d.escrow.CurrentBalance(ctx, c.ChatID)
		if err != nil {
			return Response{}, err
		}
		resp := edit(messages.DepositInfo(messages.DepositView{
			Session:  bal.Session,
			Address:  bal.Address.Address,
			Received: bal.ReceivedSinceIssue,
			ResetIn:  bal.ResetIn,
		}))
		resp.Alert = messages.AlertRefreshed
		return resp, nil

	case DealDetails:
		return reply(messages.DealDetails()), nil

	case Dispute:
		if !c.InGroup() {
			return reply(messages.GroupOnly()), nil
		}
		if err := d.moderation.RaiseDispute(ctx, c.ChatID, c.ChatTitle, c.UserID); err != nil {
			return Response{}, err
		}
		return reply(messages.DisputeRaised()), nil

	case Verify:
		if c.Address == "" {
			return reply(messages.VerifyUsage()), nil
		}
		return reply(messages.VerifyResult(c.Address, ledger.NetworksAccepting(c.Address))), nil

	case Blacklist:
		if !d.moderation.IsAdmin(c.UserID) {
			return reply(messages.AdminOnly()), nil
		}
		if c.TargetUserID == 0 {
			return reply(messages.BlacklistNeedsReply()), nil
		}
		if err := d.moderation.Blacklist(ctx, c.ChatID, c.UserID, c.TargetUserID); err != nil {
			return Response{}, err
		}
		return reply(messages.Blacklisted(c.TargetName)), nil

	case MemberJoined:
		d.moderation.PromoteOnJoin(ctx, c.ChatID, c.UserID)
		return Response{}, nil

	case GroupCreated:
		d.escrow.OpenSession(ctx, c.ChatID, c.ChatTitle)
		return Response{}, nil

	default:
		return Response{}, ErrUnknownCommand
	}
}

// fromError renders a failed command. Button presses get a callback alert,
// slash commands get a reply.
func (d *Dispatcher) fromError(cmd Command, err error) Response {
	o := cmd.From()

	var (
		conflict    *services.RoleConflictError
		pre         *services.PreconditionError
		throttled   *services.ThrottledError
		unsupported *services.UnsupportedPairError
	)
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		alert := messages.AlertNotAParty
		if _, ok := cmd.(Resolve); ok {
			alert = messages.AlertNotYourTurn
		}
		return Response{Alert: alert, ShowAlert: true}
	case errors.As(err, &conflict):
		return reply(messages.RoleConflict(conflict.Role, conflict.HolderName))
	case errors.As(err, &pre):
		if _, ok := cmd.(ChooseNetwork); ok && pre.Step == models.StepAsset {
			return Response{Alert: messages.AlertStaleButtons, ShowAlert: true}
		}
		return d.status(o, messages.Precondition(pre.Step))
	case errors.As(err, &throttled):
		return d.status(o, messages.Throttled(throttled.Remaining, throttled.Cooldown))
	case errors.As(err, &unsupported):
		return d.status(o, messages.UnsupportedPair(unsupported.Asset, unsupported.Network))
	case errors.Is(err, services.ErrAdminOnly):
		return reply(messages.AdminOnly())
	case errors.Is(err, services.ErrProtectedMember):
		return reply(messages.BlacklistProtected())
	case errors.Is(err, services.ErrSinkFailed):
		if _, ok := cmd.(Blacklist); ok {
			return reply(messages.BanFailed(err))
		}
		return reply(messages.DisputeFailed())
	default:
		return d.status(o, messages.Failure())
	}
}

func (d *Dispatcher) status(o Origin, msg messages.Message) Response {
	if o.Callback {
		return Response{Alert: msg.Plain(), ShowAlert: true}
	}
	return reply(msg)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		services.ErrRoleConflict,
		services.ErrPreconditionFailed,
		services.ErrUnauthorized,
		services.ErrThrottled,
		services.ErrUnsupportedPair,
		services.ErrAdminOnly,
		services.ErrProtectedMember,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
