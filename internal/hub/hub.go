// ABOUTME: ConnectionHub maps live connections to conversations and fans out envelopes
// ABOUTME: Registry plus reverse index, with non-blocking per-subscriber delivery

package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/confab-dev/confab/internal/protocol"
	"github.com/confab-dev/confab/internal/store"
)

// ErrConnectionNotFound is returned for operations referencing an unknown
// connection id
var ErrConnectionNotFound = errors.New("connection not found")

// Hub is the registry of live client connections and their conversation
// subscriptions. Fan-out is at-most-once and per-conversation ordered
// relative to the dispatcher's serialized critical section; the hub itself
// never blocks on a slow consumer.
type Hub struct {
	mu            sync.RWMutex
	connections   map[string]*Connection
	subscriptions map[string]string                 // connID -> conversationID
	subscribers   map[string]map[string]*Connection // conversationID -> connID -> conn
	logger        *slog.Logger
}

// New creates an empty hub. Pass nil logger for slog.Default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections:   make(map[string]*Connection),
		subscriptions: make(map[string]string),
		subscribers:   make(map[string]map[string]*Connection),
		logger:        logger.With("component", "hub"),
	}
}

// Register adds a new connection with no subscription yet and returns it.
// The transport drains conn.Events until it is closed.
func (h *Hub) Register(src store.Source) *Connection {
	conn := newConnection(uuid.New().String(), src)

	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()

	h.logger.Debug("connection registered",
		"connection_id", conn.ID,
		"source", src)
	return conn
}

// Get returns a registered connection by id
func (h *Hub) Get(connID string) (*Connection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[connID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// Subscribe adds the connection to a conversation's subscriber set. A
// connection subscribes to at most one conversation; subscribing again
// moves it.
func (h *Hub) Subscribe(connID, conversationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connID]
	if !ok {
		return ErrConnectionNotFound
	}

	if prev, subscribed := h.subscriptions[connID]; subscribed {
		h.removeSubscriberLocked(prev, connID)
	}

	if _, ok := h.subscribers[conversationID]; !ok {
		h.subscribers[conversationID] = make(map[string]*Connection)
	}
	h.subscribers[conversationID][connID] = conn
	h.subscriptions[connID] = conversationID

	h.logger.Debug("connection subscribed",
		"connection_id", connID,
		"conversation_id", conversationID,
		"subscribers", len(h.subscribers[conversationID]))
	return nil
}

// Unsubscribe detaches a connection from its conversation, keeping it
// registered. It returns the conversation id it was subscribed to, if any.
// Unsubscribing an unknown or unsubscribed connection is a no-op.
func (h *Hub) Unsubscribe(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conversationID, ok := h.subscriptions[connID]
	if !ok {
		return "", false
	}
	delete(h.subscriptions, connID)
	h.removeSubscriberLocked(conversationID, connID)

	h.logger.Debug("connection unsubscribed",
		"connection_id", connID,
		"conversation_id", conversationID)
	return conversationID, true
}

// Disconnect removes a connection entirely and closes its event stream.
// Idempotent. Returns the connection and the conversation it was subscribed
// to, if any.
func (h *Hub) Disconnect(connID string) (conn *Connection, conversationID string, wasSubscribed bool) {
	h.mu.Lock()
	conn, registered := h.connections[connID]
	if !registered {
		h.mu.Unlock()
		return nil, "", false
	}
	delete(h.connections, connID)
	conversationID, wasSubscribed = h.subscriptions[connID]
	if wasSubscribed {
		delete(h.subscriptions, connID)
		h.removeSubscriberLocked(conversationID, connID)
	}
	h.mu.Unlock()

	conn.close()
	h.logger.Debug("connection disconnected",
		"connection_id", connID,
		"source", conn.Source)
	return conn, conversationID, wasSubscribed
}

// removeSubscriberLocked must be called with h.mu held
func (h *Hub) removeSubscriberLocked(conversationID, connID string) {
	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
	}
}

// Broadcast delivers env to every subscriber of the conversation except the
// optional excluded sender. Delivery is non-blocking: a full subscriber
// buffer drops the envelope for that subscriber only, and a dead connection
// is pruned from the set. Neither aborts delivery to the others.
func (h *Hub) Broadcast(conversationID string, env *protocol.Envelope, excludeConnID string) {
	h.mu.RLock()
	subs, ok := h.subscribers[conversationID]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(subs))
	for id, conn := range subs {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		switch conn.trySend(env) {
		case sendOK:
		case sendFull:
			h.logger.Debug("dropped envelope for slow subscriber",
				"connection_id", conn.ID,
				"conversation_id", conversationID,
				"type", env.Type)
		case sendClosed:
			h.logger.Warn("pruning dead subscriber",
				"connection_id", conn.ID,
				"conversation_id", conversationID)
			h.mu.Lock()
			delete(h.subscriptions, conn.ID)
			delete(h.connections, conn.ID)
			h.removeSubscriberLocked(conversationID, conn.ID)
			h.mu.Unlock()
		}
	}
}

// Send delivers an envelope to one connection only, such as the sync
// envelope to a joiner or an error envelope back to a sender.
func (h *Hub) Send(connID string, env *protocol.Envelope) error {
	h.mu.RLock()
	conn, ok := h.connections[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	switch conn.trySend(env) {
	case sendFull:
		h.logger.Debug("dropped direct envelope for slow connection",
			"connection_id", connID,
			"type", env.Type)
	case sendClosed:
		return ErrConnectionNotFound
	}
	return nil
}

// SubscriberCount returns the current subscriber count for a conversation
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[conversationID])
}

// Close disconnects every registered connection
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for id, conn := range h.connections {
		conns = append(conns, conn)
		delete(h.connections, id)
		delete(h.subscriptions, id)
	}
	h.subscribers = make(map[string]map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	h.logger.Debug("hub closed", "connections", len(conns))
}
