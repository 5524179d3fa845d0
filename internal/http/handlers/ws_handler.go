package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/escrowdesk/backend/internal/auth"
	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/events"
	"github.com/escrowdesk/backend/internal/goroutine"
	"github.com/escrowdesk/backend/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// wsSendBuffer is how many events may queue for one connection before it is dropped.
const wsSendBuffer = 32

// wsConn is the part of a websocket connection the hub writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// wsClient owns the writes to one connection. Only its writer goroutine touches conn.
type wsClient struct {
	userID  int64
	conn    wsConn
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WSHub fans deal events out to the connections of their recipients. Admins
// receive every event.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	admins      services.AdminSet
	log         *zap.Logger
	mu          sync.Mutex
	connections map[int64][]*wsClient
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, admins services.AdminSet, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		admins:      admins,
		log:         log,
		connections: make(map[int64][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamDeals, h.dispatch)
}

// dispatch queues event for every target connection. It runs on the publisher's
// goroutine, so it never waits on a socket: a full queue drops the connection.
func (h *WSHub) dispatch(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("ws event marshal failed", zap.String("type", event.Type), zap.Error(err))
		return
	}

	targets := make(map[int64]struct{})
	for _, id := range events.Recipients(event.Payload) {
		targets[id] = struct{}{}
	}
	for id := range h.admins {
		targets[id] = struct{}{}
	}

	h.mu.Lock()
	var clients []*wsClient
	for id := range targets {
		clients = append(clients, h.connections[id]...)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("ws client too slow, dropping",
				zap.Int64("telegram_user_id", c.userID),
				zap.String("type", event.Type),
			)
			h.drop(c)
		}
	}
}

func (h *WSHub) writeLoop(c *wsClient) {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Warn("ws write failed, dropping", zap.Int64("telegram_user_id", c.userID), zap.Error(err))
				h.drop(c)
				return
			}
		}
	}
}

func (h *WSHub) register(userID int64, conn wsConn) *wsClient {
	c := &wsClient{
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], c)
	h.mu.Unlock()

	goroutine.SafeGo(h.log, "ws-writer", func() { h.writeLoop(c) })
	return c
}

func (h *WSHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.connections[c.userID]
	for i, other := range conns {
		if other == c {
			h.connections[c.userID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[c.userID]) == 0 {
		delete(h.connections, c.userID)
	}
}

// drop unregisters c and closes its connection. Safe to call more than once.
func (h *WSHub) drop(c *wsClient) {
	h.unregister(c)
	c.close()
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
	// Extract token from query
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

	client := h.register(claims.TelegramUserID, conn)
	// conn goes back to the pool once we return, so the writer must be gone first
	defer func() {
		h.drop(client)
		<-client.stopped
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
