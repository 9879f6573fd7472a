package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ConnectionManager bridges bus subscriptions to WebSocket connections.
// Each process has one ConnectionManager instance.
type ConnectionManager struct {
	bus          *Bus
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]*Subscription // channel → bus subscription
	ctx           context.Context
	cancel        context.CancelFunc
	writeMu       sync.Mutex
}

// NewConnectionManager creates a new ConnectionManager over the bus.
func NewConnectionManager(bus *Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade; blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]*Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		itineraryID, ok := parseChannel(msg.Channel)
		if !ok {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if _, exists := c.subscriptions[msg.Channel]; exists {
			return
		}
		sub := m.bus.Subscribe(itineraryID)
		c.subscriptions[msg.Channel] = sub
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		go m.pump(c, msg.Channel, sub)

	case "unsubscribe":
		if sub, exists := c.subscriptions[msg.Channel]; exists {
			sub.Close()
			delete(c.subscriptions, msg.Channel)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// pump forwards bus envelopes to the WebSocket client until the subscription
// or connection closes.
func (m *ConnectionManager) pump(c *Connection, channel string, sub *Subscription) {
	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				// Dropped by the bus (slow consumer) or unsubscribed.
				m.sendJSON(c, map[string]string{
					"type":    "subscription.closed",
					"channel": channel,
				})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := m.sendRaw(c, data); err != nil {
				slog.Warn("Failed to send to WebSocket client",
					"connection_id", c.ID, "channel", channel, "error", err)
				sub.Close()
				return
			}
		case <-c.ctx.Done():
			sub.Close()
			return
		}
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	for _, sub := range c.subscriptions {
		sub.Close()
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// parseChannel extracts the itinerary id from an "itinerary:{id}" channel name.
func parseChannel(channel string) (string, bool) {
	const prefix = "itinerary:"
	if !strings.HasPrefix(channel, prefix) || len(channel) == len(prefix) {
		return "", false
	}
	return channel[len(prefix):], true
}
