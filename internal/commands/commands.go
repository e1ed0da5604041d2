// Package commands decodes bot updates into typed commands and dispatches
// them to the escrow services.
package commands

import (
	"errors"
	"strings"

	"github.com/chat-escrow/backend/internal/messages"
	"github.com/chat-escrow/backend/internal/models"
)

var ErrUnknownCommand = errors.New("unknown command")

// Update kinds forwarded by the bot.
const (
	KindCommand      = "command"
	KindCallback     = "callback"
	KindMemberJoined = "member_joined"
	KindGroupCreated = "group_created"
)

// Envelope is a bot update as posted to /internal/updates.
type Envelope struct {
	Kind      string  `json:"kind"`
	ChatID    int64   `json:"chat_id"`
	ChatTitle string  `json:"chat_title"`
	ChatType  string  `json:"chat_type"`
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name"`
	Bio       *string `json:"bio,omitempty"`
	Text      string  `json:"text,omitempty"`
	Data      string  `json:"data,omitempty"`

	ReplyToUserID int64  `json:"reply_to_user_id,omitempty"`
	ReplyToName   string `json:"reply_to_name,omitempty"`
}

// Origin is who sent a command and where.
type Origin struct {
	ChatID      int64
	ChatTitle   string
	ChatType    string
	UserID      int64
	Username    string
	DisplayName string // @username, or first name when the user has none
	Bio         *string
	Callback    bool
}

func (o Origin) From() Origin { return o }

func (o Origin) InGroup() bool {
	return o.ChatType == "group" || o.ChatType == "supergroup"
}

// Command is one of the variants below.
type Command interface {
	Name() string
	From() Origin
}

type DeclareRole struct {
	Origin
	Role    string
	Address string
}

type PromptAsset struct{ Origin }

type ChooseAsset struct {
	Origin
	Asset string
}

type ChooseNetwork struct {
	Origin
	Asset   string
	Network string
}

type Resolve struct {
	Origin
	Accept bool
}

type RequestDeposit struct{ Origin }
type CheckBalance struct{ Origin }
type CheckPayment struct{ Origin }
type BackToAsset struct{ Origin }
type DealDetails struct{ Origin }
type Dispute struct{ Origin }

type Verify struct {
	Origin
	Address string
}

type Blacklist struct {
	Origin
	TargetUserID int64
	TargetName   string
}

type MemberJoined struct{ Origin }
type GroupCreated struct{ Origin }

func (c DeclareRole) Name() string { return c.Role }
func (PromptAsset) Name() string { return "token" }
func (ChooseAsset) Name() string { return "choose_asset" }
func (ChooseNetwork) Name() string { return "choose_network" }
func (Resolve) Name() string { return "resolve" }
func (RequestDeposit) Name() string { return "deposit" }
func (CheckBalance) Name() string { return "balance" }
func (CheckPayment) Name() string { return "check_payment" }
func (BackToAsset) Name() string { return "back_to_token" }
func (DealDetails) Name() string { return "dd" }
func (Dispute) Name() string { return "dispute" }
func (Verify) Name() string { return "verify" }
func (Blacklist) Name() string { return "blacklist" }
func (MemberJoined) Name() string { return "member_joined" }
func (GroupCreated) Name() string { return "group_created" }

// Decode turns an update into its command. Anything the bot does not handle
// yields ErrUnknownCommand.
func Decode(env Envelope) (Command, error) {
	o := Origin{
		ChatID:      env.ChatID,
		ChatTitle:   env.ChatTitle,
		ChatType:    env.ChatType,
		UserID:      env.UserID,
		Username:    env.Username,
		DisplayName: displayName(env.Username, env.FirstName),
		Bio:         env.Bio,
	}

	switch env.Kind {
	case KindCommand:
		return decodeText(o, env)
	case KindCallback:
		o.Callback = true
		return decodeCallback(o, env.Data)
	case KindMemberJoined:
		return MemberJoined{o}, nil
	case KindGroupCreated:
		return GroupCreated{o}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func decodeText(o Origin, env Envelope) (Command, error) {
	fields := strings.Fields(env.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, ErrUnknownCommand
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	args := fields[1:]

	switch name {
	case models.RoleBuyer, models.RoleSeller:
		return DeclareRole{Origin: o, Role: name, Address: strings.Join(args, " ")}, nil
	case "token":
		return PromptAsset{o}, nil
	case "deposit":
		return RequestDeposit{o}, nil
	case "balance":
		return CheckBalance{o}, nil
	case "dd":
		return DealDetails{o}, nil
	case "dispute":
		return Dispute{o}, nil
	case "verify":
		v := Verify{Origin: o}
		if len(args) > 0 {
			v.Address = args[0]
		}
		return v, nil
	case "blacklist":
		return Blacklist{Origin: o, TargetUserID: env.ReplyToUserID, TargetName: env.ReplyToName}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func decodeCallback(o Origin, data string) (Command, error) {
	switch {
	case data == messages.CallbackAccept:
		return Resolve{Origin: o, Accept: true}, nil
	case data == messages.CallbackReject:
		return Resolve{Origin: o, Accept: false}, nil
	case data == messages.CallbackCheckPayment:
		return CheckPayment{o}, nil
	case data == messages.CallbackBackToAsset:
		return BackToAsset{o}, nil
	case strings.HasPrefix(data, messages.CallbackAssetPrefix):
		asset := strings.TrimPrefix(data, messages.CallbackAssetPrefix)
		if asset == "" {
			return nil, ErrUnknownCommand
		}
		return ChooseAsset{Origin: o, Asset: asset}, nil
	case strings.HasPrefix(data, messages.CallbackNetworkPrefix):
		network, asset, ok := strings.Cut(strings.TrimPrefix(data, messages.CallbackNetworkPrefix), "_")
		if !ok || network == "" || asset == "" {
			return nil, ErrUnknownCommand
		}
		return ChooseNetwork{Origin: o, Asset: asset, Network: network}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func displayName(username, firstName string) string {
	if username != "" {
		return "@" + username
	}
	return firstName
}
