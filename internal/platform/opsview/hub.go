// Package opsview streams order-state transitions to connected operator
// clients over WebSocket and exposes the ambient /health and /metrics HTTP
// endpoints every teacher cmd/* carries. Grounded on the teacher's
// internal/delivery/websocket.Manager/Destination, with the
// subscription-filter machinery dropped: every operator client receives
// every transition, since this is an internal ops view rather than a
// public multi-tenant feed.
package opsview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atomicswap/resolver/pkg/swap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Connection wraps one operator WebSocket connection, grounded on the
// teacher's Destination read/write pump pattern.
type Connection struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConnection(id string, conn *websocket.Conn) *Connection {
	return &Connection{id: id, conn: conn, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}
}

// Close releases the connection, safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()

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
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// Hub fans a stream of order-state transitions out to every connected
// operator client, grounded on the teacher's websocket.Manager.
type Hub struct {
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
	nextID      uint64

	broadcast          int64
	connectionsOpened  int64
	connectionsClosed  int64
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger.With("component", "opsview-hub"),
		connections: make(map[string]*Connection),
	}
}

// Register wraps conn in a tracked Connection and starts its pumps; the
// Connection is removed from the Hub once it closes.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) {
	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("op-%d", h.nextID)
	c := newConnection(id, conn)
	h.connections[id] = c
	h.connectionsOpened++
	h.mu.Unlock()

	h.logger.Info("operator connected", "connection_id", id, "remote_addr", conn.RemoteAddr().String())

	go func() {
		c.run(ctx)
		h.mu.Lock()
		delete(h.connections, id)
		h.connectionsClosed++
		h.mu.Unlock()
		h.logger.Info("operator disconnected", "connection_id", id)
	}()
}

// stateMessage is what every operator client receives, one JSON object per
// order-state transition.
type stateMessage struct {
	Type      string          `json:"type"`
	OrderHash string          `json:"order_hash"`
	State     swap.OrderState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

// Broadcast fans an order-state transition out to every connected client,
// dropping it for any client whose send buffer is full rather than
// blocking the caller (the Engine's own hot path).
func (h *Hub) Broadcast(orderHash [32]byte, state swap.OrderState) {
	msg, err := json.Marshal(stateMessage{
		Type:      "order_state",
		OrderHash: fmt.Sprintf("%x", orderHash),
		State:     state,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("marshal broadcast message failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcast++
	for _, c := range h.connections {
		if c.isClosed() {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// NotifyState implements resolver.StateNotifier by broadcasting the
// transition to every connected operator client.
func (h *Hub) NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error {
	h.Broadcast(orderHash, state)
	return nil
}

// ActiveConnections reports how many operator clients are currently
// connected.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every operator client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
