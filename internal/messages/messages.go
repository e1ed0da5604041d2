// Package messages renders the chat texts and inline keyboards of the escrow
// flow. Every function is pure; delivery belongs to the notifier.
package messages

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

const ParseModeHTML = "HTML"

// Callback payloads carried by inline buttons.
const (
	CallbackAssetPrefix   = "token_"
	CallbackNetworkPrefix = "network_"
	CallbackAccept        = "accept_escrow"
	CallbackReject        = "reject_escrow"
	CallbackCheckPayment  = "check_payment_deposit"
	CallbackBackToAsset   = "back_to_token"
)

// TimeLayout renders trade start times, e.g. 15/10/26 14:03:00.
const TimeLayout = "02/01/06 15:04:05"

type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Message is one chat message. Pin asks the sink to pin it after sending.
type Message struct {
	Text      string     `json:"text"`
	ParseMode string     `json:"parse_mode,omitempty"`
	Keyboard  [][]Button `json:"keyboard,omitempty"`
	Pin       bool       `json:"pin,omitempty"`
}

var tagStripper = strings.NewReplacer(
	"<b>", "", "</b>", "",
	"<i>", "", "</i>", "",
	"<u>", "", "</u>", "",
	"<code>", "", "</code>", "",
)

// Plain is the text without HTML markup, for callback alerts.
func (m Message) Plain() string {
	if m.ParseMode != ParseModeHTML {
		return m.Text
	}
	return html.UnescapeString(tagStripper.Replace(m.Text))
}

func AssetCallback(asset string) string { return CallbackAssetPrefix + asset }

func NetworkCallback(network, asset string) string {
	return CallbackNetworkPrefix + network + "_" + asset
}

func htmlText(text string) Message {
	return Message{Text: text, ParseMode: ParseModeHTML}
}

func bold(s string) string { return "<b>" + s + "</b>" }

func esc(s string) string { return html.EscapeString(s) }

func roleTitle(role string) string {
	if role == models.RoleBuyer {
		return "Buyer"
	}
	return "Seller"
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(5) + "[" + d.StringFixed(2) + "$]"
}

func minutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return decimal.NewFromFloat(d.Minutes()).StringFixed(2)
}

const settlementCommands = "<b>Useful commands:</b>\n" +
	"🗒 <code>/release</code> = Will Release The Funds To Buyer.\n" +
	"🗒 <code>/refund</code> = Will Refund The Funds To Seller."

// Role declaration

func RoleDeclared(role string, p *models.PartyDeclaration) Message {
	upper := strings.ToUpper(role)
	return htmlText(fmt.Sprintf(`📍<b>ESCROW-ROLE DECLARATION</b>

⚡️ <b>%s %s | Userid: [%d]</b>

✅ <b>%s WALLET</b>
<code>%s</code>

<i>Note: If you don't see any address, then your address will used from saved addresses after selecting token and chain for the current escrow.</i>`,
		upper, esc(p.DisplayName), p.UserID, upper, esc(p.DepositAddress)))
}

func RoleConflict(role, holder string) Message {
	return htmlText(fmt.Sprintf("⚠️ <b>%s role is already set by %s!</b>\n\nOnly %s can update the %s information.",
		roleTitle(role), esc(holder), esc(holder), role))
}

func DeclareUsage(role string) Message {
	return Message{Text: fmt.Sprintf("⚠️ Please provide your crypto wallet address.\n\nUsage: /%s <wallet_address>\nExample: /%s 0x87bc2030c418222d7cd9feebe70b38158dd65d9a", role, role)}
}

// NextStep prompts for whatever the session still needs after a first
// declaration: the missing role or the asset choice.
func NextStep(s *models.EscrowSession) Message {
	switch {
	case s.Buyer == nil:
		return htmlText(bold("Please set buyer using /buyer [DEPOSIT ADDRESS]"))
	case s.Seller == nil:
		return htmlText(bold("Please set seller using /seller [DEPOSIT ADDRESS]"))
	default:
		return htmlText(bold("Use /token to Choose crypto."))
	}
}

func RolesRequired() Message {
	return Message{Text: "⚠️ Please set both buyer and seller first using /buyer and /seller commands."}
}

// Negotiation

func AssetMenu(assets []string) Message {
	row := make([]Button, 0, len(assets))
	for _, a := range assets {
		row = append(row, Button{Text: a, CallbackData: AssetCallback(a)})
	}
	m := htmlText(bold("Choose token from the list below"))
	m.Keyboard = [][]Button{row}
	return m
}

func NetworkMenu(asset string, networks []string) Message {
	row := make([]Button, 0, len(networks))
	for _, n := range networks {
		row = append(row, Button{Text: models.NetworkLabel(n), CallbackData: NetworkCallback(n, asset)})
	}
	m := htmlText(fmt.Sprintf(`📍<b>ESCROW-CRYPTO DECLARATION</b>

✅ <b>CRYPTO</b>
%s

<b>Choose network from the list below for %s</b>`, esc(asset), esc(asset)))
	m.Keyboard = [][]Button{row, {{Text: "⬅️BACK", CallbackData: CallbackBackToAsset}}}
	return m
}

// DeclarationForConfirmation shows the counterparty's declaration with the
// accept/reject buttons only that counterparty may press.
func DeclarationForConfirmation(role string, p *models.PartyDeclaration, n *models.Negotiation) Message {
	m := htmlText(fmt.Sprintf(`📍 <b>ESCROW DECLARATION</b>

⚡️ <b>%s %s | Userid: [%d]</b>

✅<b>%s CRYPTO</b>
✅<b>%s NETWORK</b>`, roleTitle(role), esc(p.DisplayName), p.UserID, esc(n.Asset), esc(n.Network)))
	m.Keyboard = [][]Button{{
		{Text: "Accept ✅", CallbackData: CallbackAccept},
		{Text: "Reject ❌", CallbackData: CallbackReject},
	}}
	return m
}

func FinalDeclaration(s *models.EscrowSession) Message {
	return htmlText(fmt.Sprintf(`📍 <b>ESCROW DECLARATION</b>

⚡️ <b>Buyer %s | Userid:[%d]</b>
⚡️ <b>Seller %s | Userid: [%d]</b>

✅<b>%s CRYPTO</b>
✅<b>%s NETWORK</b>`,
		esc(s.Buyer.DisplayName), s.Buyer.UserID,
		esc(s.Seller.DisplayName), s.Seller.UserID,
		esc(s.Negotiation.Asset), esc(s.Negotiation.Network)))
}

const (
	AlertAccepted     = "✅ Escrow accepted!"
	AlertRejected     = "❌ Escrow rejected. Message deleted."
	AlertNotYourTurn  = "⚠️ Only the other party can accept or reject this escrow!"
	AlertNotAParty    = "⚠️ Only the buyer or the seller can do this."
	AlertRefreshed    = "✅ Payment status refreshed!"
	AlertStaleButtons = "⚠️ This menu is outdated, use /token again."
)

// TransactionInfo is the pinned summary sent when a negotiation is accepted.
func TransactionInfo(s *models.EscrowSession) Message {
	n := s.Negotiation
	m := htmlText(fmt.Sprintf(`📍 <b>TRANSACTION INFORMATION [%d]</b>

⚡️ <b>SELLER</b>
<b>%s | [%d]</b>
%s <b>[%s] [%s]</b>

⚡️ <b>BUYER</b>
<b>%s | [%d]</b>
%s <b>[%s] [%s]</b>

⏰ <b>Trade Start Time: %s</b>


⚠️ <b>IMPORTANT: Make sure to finalise and agree each-others terms before depositing.</b>

🗒 <b>Please use /deposit command to generate a deposit address for your trade.</b>

%s`,
		s.TransactionID,
		esc(s.Seller.DisplayName), s.Seller.UserID, esc(s.Seller.DepositAddress), esc(n.Asset), esc(n.Network),
		esc(s.Buyer.DisplayName), s.Buyer.UserID, esc(s.Buyer.DepositAddress), esc(n.Asset), esc(n.Network),
		tradeStart(s), settlementCommands))
	m.Pin = true
	return m
}

func FeeTier(tier models.FeeTier, bioTag string) Message {
	if tier.Discounted {
		return htmlText(bold(fmt.Sprintf("Your Fee is %s as both buyer and seller are using %s in your bio.", tier.Percent(), esc(bioTag))))
	}
	return htmlText(bold(fmt.Sprintf("Your Fee is %s as both buyer and seller are not using %s in your bio.", tier.Percent(), esc(bioTag))))
}

func tradeStart(s *models.EscrowSession) string {
	if s.TradeStartedAt == nil {
		return "-"
	}
	return s.TradeStartedAt.UTC().Format(TimeLayout)
}

// Deposit

// DepositView is what the deposit information message shows.
type DepositView struct {
	Session  *models.EscrowSession
	Address  string
	Received decimal.Decimal
	ResetIn  time.Duration
}

// Payer names the party expected to fund the escrow: the buyer in OTC groups,
// the seller otherwise.
func Payer(s *models.EscrowSession) (string, *models.PartyDeclaration) {
	if s.Kind() == models.GroupKindOTC {
		return models.RoleBuyer, s.Buyer
	}
	return models.RoleSeller, s.Seller
}

func DepositInfo(v DepositView) Message {
	s := v.Session
	n := s.Negotiation
	role, payer := Payer(s)
	m := htmlText(fmt.Sprintf(`📍 <b>TRANSACTION INFORMATION [%d]</b>

⚡️ <b>SELLER</b>
<b>%s | [%d]</b>
⚡️ <b>BUYER</b>
<b>%s | [%d]</b>
🟢 <b>ESCROW ADDRESS</b>
<code>%s</code> <b>[%s] [%s]</b>

<b>%s [%s] Will Pay on the Escrow Address, And Click On Check Payment.</b>

<b>Amount Recieved: %s</b>

⏰ <b>Trade Start Time: %s</b>
⏰ <b>Address Reset In: %s Min</b>

📄 <b>Note: Address will reset after the given time, so make sure to deposit in the bot before the address exprires.</b>
%s

<b>Remember, once commands are used payment will be released, there is no revert!</b>`,
		s.TransactionID,
		esc(s.Seller.DisplayName), s.Seller.UserID,
		esc(s.Buyer.DisplayName), s.Buyer.UserID,
		esc(v.Address), esc(n.Asset), esc(n.Network),
		roleTitle(role), esc(payer.DisplayName),
		amount(v.Received),
		tradeStart(s), minutes(v.ResetIn),
		settlementCommands))
	m.Keyboard = [][]Button{{{Text: "Check Payment", CallbackData: CallbackCheckPayment}}}
	return m
}

func Throttled(remaining, cooldown time.Duration) Message {
	return htmlText(fmt.Sprintf("⏳ <b>Please wait %s minutes before requesting a new deposit address.</b>\n\n<b>Address will reset after %s minutes from the last request.</b>",
		decimal.NewFromFloat(remaining.Minutes()).StringFixed(1),
		decimal.NewFromFloat(cooldown.Minutes()).String()))
}

func Balance(total decimal.Decimal) Message {
	return htmlText(fmt.Sprintf("<b>Current Escrow Balance is: <code>%s</code>usdt <u>%s$</u></b>",
		total.StringFixed(5), total.StringFixed(2)))
}

func DepositConfirmed(d models.DepositDetected) Message {
	return htmlText(fmt.Sprintf(`<b>Deposit 💵 has been confirmed

🪙 Token: %s
💰 Amount: %s
💸 Balance: %s

Now you can proceed with the Deal✅</b>

%s`,
		models.TokenName(d.Asset, d.Network), amount(d.AmountDelta), amount(d.NewCumulativeTotal), settlementCommands))
}

func LedgerUnavailable(network, address string, failures int) Message {
	return htmlText(fmt.Sprintf("⚠️ <b>Deposit tracking for %s on %s is delayed.</b>\n\nThe %s explorer has failed %d checks in a row. Funds are safe; confirmation will follow once the explorer responds.",
		esc(address), esc(network), esc(network), failures))
}

func UnsupportedPair(asset, network string) Message {
	if network == "" {
		return htmlText(bold(fmt.Sprintf("⚠️ %s is not supported. Please choose a token from the list.", esc(asset))))
	}
	return htmlText(bold(fmt.Sprintf("⚠️ %s on %s is not supported. Please choose a supported network.", esc(asset), esc(network))))
}

// Moderation

func GroupOnly() Message {
	return htmlText(bold("⚠️ This command can only be used in escrow groups."))
}

func DisputeRaised() Message {
	return htmlText(bold("ℹ️ Dispute has been raised, Kindly wait till our admin joins you."))
}

func DisputeFailed() Message {
	return htmlText(bold("⚠️ Failed to notify admins. Please contact support directly."))
}

func DisputeAlert(title string, chatID int64, inviteLink string) Message {
	if title == "" {
		title = "Escrow Group"
	}
	return htmlText(fmt.Sprintf(`<b>🚨 DISPUTE RAISED</b>

<b>Group:</b> %s
<b>Chat ID:</b> <code>%d</code>

<b>Join the group to resolve the dispute:</b>
%s`, esc(title), chatID, esc(inviteLink)))
}

func AdminOnly() Message {
	return htmlText(bold("⚠️ This command is only available for admins."))
}

func BlacklistNeedsReply() Message {
	return htmlText(bold("⚠️ Please reply to a user's message to blacklist them."))
}

func BlacklistProtected() Message {
	return htmlText(bold("⚠️ Cannot blacklist other admins."))
}

func Blacklisted(name string) Message {
	return htmlText(bold(fmt.Sprintf("✅ User %s has been blacklisted and banned from this group.", esc(name))))
}

func BanFailed(err error) Message {
	return htmlText(bold(fmt.Sprintf("❌ Failed to ban user: %s", esc(err.Error()))))
}

// Informational

func DealDetails() Message {
	return htmlText(`Hello there,
Kindly tell deal details i.e.

<code>Quantity -
Rate -
Conditions (if any) -</code>

Remember without it disputes wouldn't be resolved. Once filled proceed with Specifications of the seller or buyer with /seller or /buyer <b>[CRYPTO ADDRESS]</b>`)
}

func VerifyUsage() Message {
	return Message{Text: "⚠️ Usage: /verify <address>"}
}

// VerifyResult reports on which supported networks an address is well formed.
func VerifyResult(address string, networks []string) Message {
	if len(networks) == 0 {
		return htmlText(fmt.Sprintf("❌ <code>%s</code> <b>is not a valid BEP20 or TRC20 address.</b>", esc(address)))
	}
	labels := make([]string, len(networks))
	for i, n := range networks {
		labels[i] = models.NetworkLabel(n)
	}
	return htmlText(fmt.Sprintf("✅ <code>%s</code> <b>is a valid %s address.</b>", esc(address), strings.Join(labels, " / ")))
}

func Failure() Message {
	return Message{Text: "⚠️ Something went wrong, please try again."}
}

// Precondition explains which step is missing.
func Precondition(reason string) Message {
	switch reason {
	case models.StepRoles:
		return RolesRequired()
	case models.StepAsset, models.StepNetwork:
		return Message{Text: "⚠️ Please select token and network first using /token command."}
	case models.StepAcceptance:
		return Message{Text: "⚠️ The escrow declaration must be accepted by the other party first."}
	case models.StepNotAccepted:
		return Message{Text: "⚠️ This escrow is already accepted. Use /deposit to continue."}
	case models.StepDepositAddress:
		return Message{Text: "⚠️ No deposit address yet. Use /deposit to generate one."}
	case models.StepNotAwaiting:
		return Message{Text: "⚠️ Waiting for the other party to accept or reject. Use BACK to change the token."}
	default:
		return Message{Text: "⚠️ No escrow found. Please set buyer and seller first using /buyer and /seller commands."}
	}
}
