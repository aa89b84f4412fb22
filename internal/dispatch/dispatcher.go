// ABOUTME: Dispatcher serializes all mutating conversation operations
// ABOUTME: Sequences store-then-broadcast so observers see one total order

package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confab-dev/confab/internal/hub"
	"github.com/confab-dev/confab/internal/protocol"
	"github.com/confab-dev/confab/internal/store"
)

// DefaultHistoryLimit is how many messages a joining connection receives in
// its sync envelope when no limit is configured.
const DefaultHistoryLimit = 100

// Dispatcher is the single entry point for inbound client actions. Every
// mutating operation on one conversation runs inside that conversation's
// critical section, so append order, broadcast order and observed order all
// agree. Operations on different conversations proceed in parallel.
type Dispatcher struct {
	store        *store.ConversationStore
	hub          *hub.Hub
	historyLimit int
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-conversation critical sections
}

// New wires a dispatcher to its store and hub. historyLimit <= 0 selects
// DefaultHistoryLimit. Pass nil logger for slog.Default.
func New(s *store.ConversationStore, h *hub.Hub, historyLimit int, logger *slog.Logger) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:        s,
		hub:          h,
		historyLimit: historyLimit,
		logger:       logger.With("component", "dispatch"),
		locks:        make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the mutex owning one conversation's critical
// section, creating it on first touch. Lock entries live for the life of
// the process; they are two words each.
func (d *Dispatcher) conversationLock(conversationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[conversationID] = l
	}
	return l
}

// SubmitMessage validates an inbound submission, assigns id and timestamp,
// appends it to the durable log, and fans the message envelope out to the
// conversation's subscribers. originConnID, when non-empty, names the
// sender's own connection so it is excluded from the fan-out; the
// integration's REST path passes "".
//
// A validation failure is returned before any store or hub side effect.
func (d *Dispatcher) SubmitMessage(sub *protocol.Submission, originConnID string) (*store.Message, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	l := d.conversationLock(sub.ConversationID)
	l.Lock()
	defer l.Unlock()

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: sub.ConversationID,
		Role:           sub.Role,
		Content:        sub.Content,
		Source:         sub.Source,
		Timestamp:      time.Now().UTC(),
	}
	if err := d.store.AddMessage(msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	// Broadcast inside the critical section: append order is broadcast order
	d.hub.Broadcast(sub.ConversationID, protocol.NewMessageEnvelope(msg), originConnID)

	d.logger.Debug("message dispatched",
		"conversation_id", sub.ConversationID,
		"message_id", msg.ID,
		"source", sub.Source)
	return msg, nil
}

// SubmitTyping fans out an ephemeral typing signal. The store is never
// touched; typing indicators are not persisted or replayed.
func (d *Dispatcher) SubmitTyping(conversationID string, src store.Source, isTyping bool, originConnID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversationId is required", protocol.ErrValidation)
	}
	if !src.Valid() {
		return fmt.Errorf("%w: unknown source %q", protocol.ErrValidation, src)
	}
	d.hub.Broadcast(conversationID, protocol.NewTypingEnvelope(conversationID, src, isTyping), originConnID)
	return nil
}

// Join subscribes a connection to a conversation, replays recent history to
// it in a single sync envelope, and announces the join to the other
// subscribers. The joiner never receives its own presence event.
//
// If history cannot be read the subscription is rolled back and the join
// fails; no partial state is left behind.
func (d *Dispatcher) Join(connID, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversationId is required", protocol.ErrValidation)
	}
	conn, err := d.hub.Get(connID)
	if err != nil {
		return err
	}

	l := d.conversationLock(conversationID)
	l.Lock()
	defer l.Unlock()

	// Subscribing to a deleted or unknown conversation starts a fresh one
	d.store.GetOrCreateConversation(conversationID)

	if err := d.hub.Subscribe(connID, conversationID); err != nil {
		return err
	}

	history, err := d.store.GetRecentMessages(conversationID, d.historyLimit)
	if err != nil {
		d.hub.Unsubscribe(connID)
		return fmt.Errorf("reading history for join: %w", err)
	}

	if err := d.store.UpdateParticipantStatus(conversationID, conn.Source, true); err != nil {
		d.logger.Warn("participant status update failed on join",
			"conversation_id", conversationID,
			"source", conn.Source,
			"error", err)
	}

	// Sync goes to the joiner alone; presence goes to everyone else
	if err := d.hub.Send(connID, protocol.NewSyncEnvelope(conversationID, history)); err != nil {
		d.hub.Unsubscribe(connID)
		return fmt.Errorf("delivering sync: %w", err)
	}
	d.hub.Broadcast(conversationID, protocol.NewPresenceEnvelope(conversationID, conn.Source, protocol.PresenceJoined), connID)

	d.logger.Info("connection joined",
		"connection_id", connID,
		"conversation_id", conversationID,
		"source", conn.Source,
		"history", len(history))
	return nil
}

// Leave detaches a connection from its conversation and announces the
// departure to the remaining subscribers. Leaving while not subscribed is a
// no-op.
func (d *Dispatcher) Leave(connID string) {
	conn, err := d.hub.Get(connID)
	if err != nil {
		return
	}
	conversationID, wasSubscribed := d.hub.Unsubscribe(connID)
	if !wasSubscribed {
		return
	}
	d.announceDeparture(conversationID, conn.Source)
}

// Disconnect removes a connection from the hub entirely, announcing the
// departure if it was subscribed. Immediate and idempotent.
func (d *Dispatcher) Disconnect(connID string) {
	conn, conversationID, wasSubscribed := d.hub.Disconnect(connID)
	if conn == nil || !wasSubscribed {
		return
	}
	d.announceDeparture(conversationID, conn.Source)
}

func (d *Dispatcher) announceDeparture(conversationID string, src store.Source) {
	l := d.conversationLock(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := d.store.UpdateParticipantStatus(conversationID, src, false); err != nil && err != store.ErrNotFound {
		d.logger.Warn("participant status update failed on departure",
			"conversation_id", conversationID,
			"source", src,
			"error", err)
	}
	d.hub.Broadcast(conversationID, protocol.NewPresenceEnvelope(conversationID, src, protocol.PresenceDisconnected), "")
}
