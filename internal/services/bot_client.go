package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/messages"
	"go.uber.org/zap"
)

// BotClient talks to the chat bot's internal API. It is the direct
// Notifier and the GroupAdmin of the service.
type BotClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL, token string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type sendMessageRequest struct {
	ChatID int64 `json:"chat_id"`
	messages.Message
}

type sendMessageResult struct {
	MessageID int64 `json:"message_id"`
}

func (c *BotClient) SendMessage(ctx context.Context, chatID int64, msg messages.Message) (int64, error) {
	var result sendMessageResult
	if err := c.post(ctx, "/internal/messages", sendMessageRequest{ChatID: chatID, Message: msg}, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (c *BotClient) PinMessage(ctx context.Context, chatID, messageID int64) error {
	return c.post(ctx, "/internal/pin", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": true,
	}, nil)
}

func (c *BotClient) SetGroupTitle(ctx context.Context, chatID int64, title string) error {
	return c.post(ctx, "/internal/title", map[string]any{
		"chat_id": chatID,
		"title":   title,
	}, nil)
}

type inviteLinkResult struct {
	InviteLink string `json:"invite_link"`
}

func (c *BotClient) CreateInviteLink(ctx context.Context, chatID int64) (string, error) {
	var result inviteLinkResult
	if err := c.post(ctx, "/internal/invite-link", map[string]any{"chat_id": chatID}, &result); err != nil {
		return "", err
	}
	if result.InviteLink == "" {
		return "", fmt.Errorf("bot service returned an empty invite link")
	}
	return result.InviteLink, nil
}

func (c *BotClient) BanMember(ctx context.Context, chatID, userID int64) error {
	return c.post(ctx, "/internal/ban", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, nil)
}

// PromoteMember grants full group admin rights.
func (c *BotClient) PromoteMember(ctx context.Context, chatID, userID int64) error {
	return c.post(ctx, "/internal/promote", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
		"rights": []string{
			"manage_chat", "delete_messages", "manage_video_chats", "restrict_members",
			"promote_members", "change_info", "invite_users", "pin_messages", "post_messages",
		},
	}, nil)
}

func (c *BotClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		c.log.Warn("bot call failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
