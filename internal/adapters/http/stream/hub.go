// Package stream pushes projection updates and correction status changes to
// websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Message types.
const (
	TypeProjection = "projection"
	TypeCorrection = "correction"
)

// Message is one notification frame.
type Message struct {
	Type          string             `json:"type"`
	MatchID       string             `json:"match_id"`
	LedgerVersion int64              `json:"ledger_version,omitempty"`
	Stale         bool               `json:"stale,omitempty"`
	Totals        model.PlayerTotals `json:"totals,omitempty"`
	Correction    *model.Correction  `json:"correction,omitempty"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client send buffer. Clients that fall this far
// behind are disconnected.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithPingInterval sets the keepalive ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.ping = d
		}
	}
}

// WithLogger overrides the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

type client struct {
	conn    *websocket.Conn
	matchID string
	send    chan []byte
	once    sync.Once
	done    chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans messages out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	ping     time.Duration
	log      logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  defaultBuffer,
		ping:    defaultPingInterval,
		log:     logger.Named("stream"),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches GET /ws to mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.ServeHTTP)
}

// ServeHTTP upgrades the request. An optional ?match= limits the stream to
// one match.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	c := &client{
		conn:    conn,
		matchID: r.URL.Query().Get("match"),
		send:    make(chan []byte, h.buffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.AddStreamClients(1)

	go h.readLoop(c)
	go h.writeLoop(c)
}

// readLoop discards inbound frames and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout)); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		metrics.AddStreamClients(-1)
	}
	c.close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client subscribed to its match. Slow clients
// are disconnected rather than blocking the publisher.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error(ctx, "encode stream message", logger.Error(err))
		return
	}
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.matchID != "" && c.matchID != msg.MatchID {
			continue
		}
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn(ctx, "dropping slow stream client", logger.String("match_id", c.matchID))
		h.drop(c)
	}
}

// OnProjection is a projection.Listener.
func (h *Hub) OnProjection(ctx context.Context, p *projection.MatchProjection) {
	h.Broadcast(ctx, Message{
		Type:          TypeProjection,
		MatchID:       p.MatchID,
		LedgerVersion: p.LedgerVersion,
		Stale:         p.Stale,
		Totals:        p.Totals(),
	})
}

// Notify implements correction.Notifier.
func (h *Hub) Notify(ctx context.Context, c model.Correction) {
	h.Broadcast(ctx, Message{Type: TypeCorrection, MatchID: c.MatchID, Correction: &c})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}
