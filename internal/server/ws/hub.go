// Package ws streams deal-room messages to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096
)

// DealReader resolves the room bound to a deal.
type DealReader interface {
	GetDeal(ctx context.Context, dealID uint64) (service.DealView, error)
}

// RoomStreamer follows a room from a cursor.
type RoomStreamer interface {
	Stream(ctx context.Context, groupID, cursor string) (<-chan domain.RoomMessage, error)
}

// Config holds hub settings.
type Config struct {
	// AllowedOrigins restricts the Origin header of upgrades. Empty allows
	// every origin.
	AllowedOrigins []string
}

// envelope frames every message sent to a client.
type envelope struct {
	Type    string `json:"type"` // "subscribed" or "message"
	Payload any    `json:"payload"`
}

type subscribedPayload struct {
	DealID  uint64 `json:"dealId"`
	GroupID string `json:"groupId"`
	Cursor  string `json:"cursor"`
}

// Hub tracks websocket subscribers of deal rooms. Each connection is an
// independent room subscriber resuming from its own cursor.
type Hub struct {
	deals    DealReader
	rooms    RoomStreamer
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// client represents a single WebSocket connection.
type client struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewHub creates a Hub.
func NewHub(deals DealReader, rooms RoomStreamer, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		deals:   deals,
		rooms:   rooms,
		metrics: m,
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.cancel()
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.WSSubscribers(1)
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.metrics.WSSubscribers(-1)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleRoom upgrades the request and streams the deal's room from the
// optional cursor query parameter. It returns when the client goes away or
// the hub shuts down.
// GET /ws/deals/{id}?cursor=...
func (h *Hub) HandleRoom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid deal id"}`, http.StatusBadRequest)
		return
	}
	deal, err := h.deals.GetDeal(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"deal unavailable"}`, status)
		return
	}
	if deal.GroupID == "" {
		http.Error(w, `{"error":"deal has no room yet"}`, http.StatusNotFound)
		return
	}
	cursor := r.URL.Query().Get("cursor")

	// The request context ends with this handler; the stream gets its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	msgs, err := h.rooms.Stream(ctx, deal.GroupID, cursor)
	if err != nil {
		h.logger.Error("ws: stream failed",
			slog.String("group_id", deal.GroupID),
			slog.String("error", err.Error()),
		)
		http.Error(w, `{"error":"room unavailable"}`, http.StatusBadGateway)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{conn: conn, cancel: cancel}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	hello := envelope{Type: "subscribed", Payload: subscribedPayload{DealID: id, GroupID: deal.GroupID, Cursor: cursor}}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, hello, msgs)
	}()
	c.readPump()
	cancel()
	<-done
}

// readPump drains client frames until the connection fails. Clients only
// answer pings; anything they send is ignored.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection. It forwards room messages
// as JSON text frames and sends periodic pings.
func (c *client) writePump(ctx context.Context, hello envelope, msgs <-chan domain.RoomMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if err := c.writeJSON(hello); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case msg, ok := <-msgs:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
				return
			}
			if err := c.writeJSON(envelope{Type: "message", Payload: msg}); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
