// Package ws bridges WebSocket clients onto the Redis-backed signal channel.
// Phones hold one socket per open conversation; the hub relays their signals
// through pub/sub so every device of every member sees the same stream.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	"carelink-backend/internal/signaling"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 54 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 << 10 // SDP offers run to tens of KB
	sendBuffer     = 64
)

// Alerter is notified when an OFFER passes through so backgrounded devices
// get a push. Implementations must be safe for concurrent use.
type Alerter interface {
	NotifyIncomingCall(ctx context.Context, conversationID, callerID, sessionID uuid.UUID, callerName string)
}

// Hub relays signals between WebSocket clients and the signal channel.
type Hub struct {
	channel *signaling.Channel
	alerter Alerter
	log     *zap.Logger

	mu            sync.RWMutex
	conversations map[uuid.UUID]map[*Client]bool
	subscriptions map[uuid.UUID]*signaling.Subscription

	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.CallSignal

	maxConnections int
	semaphore      chan struct{}
}

// Client is one WebSocket connection scoped to a conversation.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	displayName    string
	conversationID uuid.UUID
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Mobile clients send no browser origin; the bearer token on the
		// upgrade request is the actual gate.
		return true
	},
}

// NewHub creates the hub and starts its loop.
func NewHub(channel *signaling.Channel, alerter Alerter, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	h := &Hub{
		channel:        channel,
		alerter:        alerter,
		log:            logger.Named("ws"),
		conversations:  make(map[uuid.UUID]map[*Client]bool),
		subscriptions:  make(map[uuid.UUID]*signaling.Subscription),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan domain.CallSignal, 256),
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case sig := <-h.broadcast:
			h.deliver(sig)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conversations[client.conversationID] == nil {
		// First socket for this conversation: open the pub/sub leg.
		sub, err := h.channel.Subscribe(context.Background(), client.conversationID)
		if err != nil {
			h.log.Error("failed to subscribe for conversation",
				zap.String("conversation_id", client.conversationID.String()),
				zap.Error(err))
			close(client.send)
			return
		}
		h.conversations[client.conversationID] = make(map[*Client]bool)
		h.subscriptions[client.conversationID] = sub
		go h.pump(client.conversationID, sub)
	}
	h.conversations[client.conversationID][client] = true
	metrics.WSConnectionsActive.Inc()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.conversations[client.conversationID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	metrics.WSConnectionsActive.Dec()

	if len(clients) == 0 {
		if sub, ok := h.subscriptions[client.conversationID]; ok {
			sub.Unsubscribe()
			delete(h.subscriptions, client.conversationID)
		}
		delete(h.conversations, client.conversationID)
	}
}

// pump forwards one conversation's pub/sub stream into the broadcast loop.
func (h *Hub) pump(conversationID uuid.UUID, sub *signaling.Subscription) {
	for sig := range sub.Signals() {
		h.broadcast <- sig
	}
	h.log.Debug("subscription drained", zap.String("conversation_id", conversationID.String()))
}

// deliver fans a signal out to the conversation's sockets, skipping the
// sender's own.
func (h *Hub) deliver(sig domain.CallSignal) {
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.conversations[sig.ConversationID] {
		if client.userID == sig.SenderID {
			continue
		}
		select {
		case client.send <- data:
		default:
			metrics.SignalsDroppedTotal.WithLabelValues("slow_consumer").Inc()
		}
	}
}

// inboundSignal is what clients put on the wire. Everything else in the
// envelope is assigned server-side so clients cannot forge identity or time.
type inboundSignal struct {
	Type          string `json:"type"`
	CallSessionID string `json:"call_session_id"`
	Payload       string `json:"payload"`
}

// ServeWS upgrades an authenticated request into a signal socket.
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		metrics.WSConnectionsRejectedTotal.Inc()
		h.log.Warn("connection rejected at capacity", zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	userID, ok := middleware.UserID(c)
	if !ok {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		release()
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		h.log.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		userID:         userID,
		displayName:    middleware.DisplayName(c),
		conversationID: conversationID,
	}
	h.register <- client

	go client.writePump()
	go func() {
		defer release()
		client.readPump()
	}()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("socket closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var in inboundSignal
		if err := json.Unmarshal(raw, &in); err != nil {
			metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}
		sigType, ok := domain.ParseSignalType(in.Type)
		if !ok {
			metrics.SignalsDroppedTotal.WithLabelValues("unknown_type").Inc()
			continue
		}
		sessionID, err := uuid.Parse(in.CallSessionID)
		if err != nil {
			metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}

		sig := &domain.CallSignal{
			ConversationID: c.conversationID,
			CallSessionID:  sessionID,
			SenderID:       c.userID,
			Type:           sigType,
			Payload:        in.Payload,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = c.hub.channel.Publish(ctx, sig)
		cancel()
		if err != nil {
			c.hub.log.Warn("failed to publish signal from socket",
				zap.String("type", string(sigType)),
				zap.Error(err))
			continue
		}

		if sigType == domain.SignalOffer && c.hub.alerter != nil {
			go func(conversationID, callerID, sessionID uuid.UUID, name string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				c.hub.alerter.NotifyIncomingCall(ctx, conversationID, callerID, sessionID, name)
			}(c.conversationID, c.userID, sessionID, c.displayName)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
