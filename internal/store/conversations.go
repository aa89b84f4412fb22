// ABOUTME: ConversationStore holds the canonical in-memory conversation table
// ABOUTME: Mutations schedule debounced snapshot writes to a pluggable Backend

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDebounce is the quiet period between a mutation and its
	// snapshot write. Repeated mutations inside the window coalesce.
	DefaultDebounce = 2 * time.Second

	// saveTimeout bounds a single backend save so a stuck backend cannot
	// pin goroutines forever.
	saveTimeout = 5 * time.Second
)

// ConversationStore is the durable, ordered message log and participant
// table. All mutating calls must come through the dispatcher's
// per-conversation serialization so append order equals temporal order.
//
// Persistence is write-behind: each mutation arms (or re-arms) a
// per-conversation debounce timer, and the timer flushes one snapshot to the
// Backend. The hot read/broadcast path never touches the Backend.
type ConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	timers        map[string]*time.Timer
	dirty         map[string]bool

	backend  Backend
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a store over the given backend. A zero debounce selects
// DefaultDebounce. Pass nil logger for slog.Default.
func New(backend Backend, debounce time.Duration, logger *slog.Logger) *ConversationStore {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		conversations: make(map[string]*Conversation),
		timers:        make(map[string]*time.Timer),
		dirty:         make(map[string]bool),
		backend:       backend,
		debounce:      debounce,
		logger:        logger.With("component", "store"),
	}
}

// Initialize loads all persisted conversations into memory. The backend
// skips (and logs) individually unreadable records; a skipped conversation
// is not fatal to the rest.
func (s *ConversationStore) Initialize(ctx context.Context) error {
	convs, err := s.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range convs {
		if conv.Participants == nil {
			conv.Participants = make(map[Source]ParticipantState)
		}
		s.conversations[conv.ID] = conv
	}
	s.logger.Info("store initialized", "conversations", len(convs))
	return nil
}

// GetOrCreateConversation returns the conversation with the given id,
// creating an empty one if needed. Never fails.
func (s *ConversationStore) GetOrCreateConversation(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(id).Clone()
}

// getOrCreateLocked must be called with s.mu held
func (s *ConversationStore) getOrCreateLocked(id string) *Conversation {
	if conv, ok := s.conversations[id]; ok {
		return conv
	}
	now := time.Now().UTC()
	conv := &Conversation{
		ID:           id,
		Messages:     []*Message{},
		Participants: make(map[Source]ParticipantState),
		Created:      now,
		Updated:      now,
	}
	s.conversations[id] = conv
	s.scheduleSaveLocked(id)
	s.logger.Debug("conversation created", "conversation_id", id)
	return conv
}

// AddMessage appends msg to its conversation's log, creating the
// conversation if needed, and refreshes the sending source's participant
// state. Must be called only through the dispatcher's serialization point.
func (s *ConversationStore) AddMessage(msg *Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("message has no conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreateLocked(msg.ConversationID)
	conv.Messages = append(conv.Messages, msg)
	s.touchParticipantLocked(conv, msg.Source, msg.Timestamp)
	if msg.Timestamp.After(conv.Updated) {
		conv.Updated = msg.Timestamp
	} else {
		conv.Updated = time.Now().UTC()
	}
	s.scheduleSaveLocked(conv.ID)

	s.logger.Debug("message appended",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"source", msg.Source,
		"total", len(conv.Messages))
	return nil
}

// touchParticipantLocked refreshes participant state monotonically; an
// older timestamp never rolls back a newer one.
func (s *ConversationStore) touchParticipantLocked(conv *Conversation, src Source, at time.Time) {
	state := conv.Participants[src]
	if src.ConnectionOriented() {
		if state.LastSeen == nil || at.After(*state.LastSeen) {
			state.LastSeen = &at
		}
	} else {
		if state.LastUsed == nil || at.After(*state.LastUsed) {
			state.LastUsed = &at
		}
	}
	conv.Participants[src] = state
}

// GetConversation returns the conversation or ErrNotFound. Read paths never
// auto-create.
func (s *ConversationStore) GetConversation(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// GetRecentMessages returns the last limit messages of a conversation in
// ascending temporal order. A limit <= 0 returns the whole log.
func (s *ConversationStore) GetRecentMessages(id string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// GetAllConversations returns every conversation, most recently updated first.
func (s *ConversationStore) GetAllConversations() []*Conversation {
	s.mu.Lock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}

// SearchConversations returns conversations whose message content or
// metadata (title, summary, tags) contains query, case-insensitively.
// Matching is per conversation: one hit anywhere includes the whole
// conversation. An empty query matches nothing.
func (s *ConversationStore) SearchConversations(query string) []*Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	matches := func(conv *Conversation) bool {
		if strings.Contains(strings.ToLower(conv.Metadata.Title), q) ||
			strings.Contains(strings.ToLower(conv.Metadata.Summary), q) {
			return true
		}
		for _, tag := range conv.Metadata.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), q) {
				return true
			}
		}
		return false
	}

	s.mu.Lock()
	var out []*Conversation
	for _, conv := range s.conversations {
		if matches(conv) {
			out = append(out, conv.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}

// UpdateParticipantStatus records a connection transition for a
// connection-oriented source. The integration source has no connection
// state and is rejected.
func (s *ConversationStore) UpdateParticipantStatus(id string, src Source, connected bool) error {
	if !src.ConnectionOriented() {
		return fmt.Errorf("source %q has no connection state", src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	state := conv.Participants[src]
	state.Connected = connected
	if state.LastSeen == nil || now.After(*state.LastSeen) {
		state.LastSeen = &now
	}
	conv.Participants[src] = state
	conv.Updated = now
	s.scheduleSaveLocked(id)
	return nil
}

// UpdateMetadata replaces a conversation's metadata
func (s *ConversationStore) UpdateMetadata(id string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Metadata = meta
	conv.Updated = time.Now().UTC()
	s.scheduleSaveLocked(id)
	return nil
}

// DeleteConversation removes a conversation from memory and from the
// backend. Any pending debounced save is cancelled first.
func (s *ConversationStore) DeleteConversation(id string) error {
	s.mu.Lock()
	_, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.dirty, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// ClearAll removes every conversation from memory and the backend
func (s *ConversationStore) ClearAll() error {
	s.mu.Lock()
	s.conversations = make(map[string]*Conversation)
	s.dirty = make(map[string]bool)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	s.logger.Info("all conversations cleared")
	return nil
}

// GetStats returns aggregate counts across all conversations
func (s *ConversationStore) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Conversations:    len(s.conversations),
		MessagesBySource: make(map[Source]int),
	}
	for _, conv := range s.conversations {
		stats.Messages += len(conv.Messages)
		for _, msg := range conv.Messages {
			stats.MessagesBySource[msg.Source]++
		}
		created := conv.Created
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			t := created
			stats.Oldest = &t
		}
		updated := conv.Updated
		if stats.Newest == nil || updated.After(*stats.Newest) {
			t := updated
			stats.Newest = &t
		}
	}
	return stats
}

// HealthCheck probes the persistence backend
func (s *ConversationStore) HealthCheck(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// scheduleSaveLocked arms (or re-arms) the debounce timer for one
// conversation. Must be called with s.mu held. Timer state is owned here,
// keyed by conversation id, so scheduling and cancellation cannot race
// across conversations.
func (s *ConversationStore) scheduleSaveLocked(id string) {
	s.dirty[id] = true
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.debounce, func() {
		s.flush(id)
	})
}

// flush writes one conversation snapshot to the backend. A failed save is
// logged and the conversation re-armed for the next debounce cycle; in-memory
// state stays authoritative either way.
func (s *ConversationStore) flush(id string) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		// Deleted between scheduling and firing
		delete(s.dirty, id)
		delete(s.timers, id)
		s.mu.Unlock()
		return
	}
	snapshot := conv.Clone()
	delete(s.dirty, id)
	delete(s.timers, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.logger.Error("conversation save failed, retrying next cycle",
			"conversation_id", id,
			"error", err)
		s.mu.Lock()
		// Re-arm only if nothing newer was scheduled meanwhile
		if _, rearmed := s.timers[id]; !rearmed {
			s.scheduleSaveLocked(id)
		}
		s.mu.Unlock()
		return
	}
	s.logger.Debug("conversation saved",
		"conversation_id", id,
		"messages", len(snapshot.Messages))
}

// SaveAll synchronously flushes every pending debounced write. Called on
// graceful shutdown so at most nothing inside the final debounce window is
// lost.
func (s *ConversationStore) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*Conversation, 0, len(s.dirty))
	for id := range s.dirty {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
		if conv, ok := s.conversations[id]; ok {
			pending = append(pending, conv.Clone())
		}
		delete(s.dirty, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, conv := range pending {
		if err := s.backend.Save(ctx, conv); err != nil {
			s.logger.Error("flush failed", "conversation_id", conv.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(pending) > 0 {
		s.logger.Info("pending saves flushed", "count", len(pending))
	}
	return firstErr
}

// Close flushes pending writes and releases the backend
func (s *ConversationStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.SaveAll(ctx); err != nil {
		s.logger.Error("final flush failed", "error", err)
	}
	return s.backend.Close()
}
