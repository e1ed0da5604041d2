package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/chat-escrow/backend/internal/auth"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type wsClient struct {
	conn   *websocket.Conn
	chatID int64 // 0 follows every chat
}

// WSHub streams escrow events to connected admins.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[int64][]*wsClient
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[int64][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamEscrow, h.broadcast)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	chatID := eventChatID(event)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.connections {
		for _, cl := range clients {
			if cl.chatID != 0 && cl.chatID != chatID {
				continue
			}
			_ = cl.conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// eventChatID reads chat_id from a payload that may have gone through JSON.
func eventChatID(e events.Event) int64 {
	switch v := e.Payload["chat_id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}
	if !h.cfg.IsAdmin(claims.TelegramUserID) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"admin access required"}`))
		conn.Close()
		return
	}

	userID := claims.TelegramUserID
	cl := &wsClient{conn: conn}
	if v := conn.Query("chat_id"); v != "" {
		cl.chatID, _ = strconv.ParseInt(v, 10, 64)
	}

	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], cl)
	h.mu.Unlock()
	h.log.Debug("ws connected", zap.Int64("telegram_user_id", userID), zap.Int64("chat_id", cl.chatID))

	defer func() {
		h.mu.Lock()
		clients := h.connections[userID]
		for i, c := range clients {
			if c == cl {
				h.connections[userID] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(h.connections[userID]) == 0 {
			delete(h.connections, userID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
