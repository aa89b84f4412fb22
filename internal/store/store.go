// ABOUTME: Core data types and errors for conversation persistence
// ABOUTME: Defines Message, Conversation, ParticipantState and the Backend interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// Source identifies the kind of client that produced or consumes an event
type Source string

const (
	SourceDesktop     Source = "desktop"
	SourceWeb         Source = "web"
	SourceIPhone      Source = "iphone"
	SourceIntegration Source = "integration"
)

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	switch s {
	case SourceDesktop, SourceWeb, SourceIPhone, SourceIntegration:
		return true
	}
	return false
}

// ConnectionOriented reports whether s holds a persistent duplex connection.
// The integration source talks over REST and has no live connection state.
func (s Source) ConnectionOriented() bool {
	return s != SourceIntegration
}

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single entry in a conversation's log. Immutable once appended;
// only whole-conversation deletion removes messages.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Source         Source    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParticipantState tracks per-source presence within a conversation.
// Connection-oriented sources use Connected/LastSeen; the integration
// source only records LastUsed.
type ParticipantState struct {
	Connected bool       `json:"connected,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

// Metadata holds optional descriptive fields for a conversation
type Metadata struct {
	Title   string   `json:"title,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Conversation groups an ordered, append-only message log with its
// participant table. Message order is append order, which equals temporal
// order because appends are serialized per conversation.
type Conversation struct {
	ID           string                      `json:"id"`
	Messages     []*Message                  `json:"messages"`
	Participants map[Source]ParticipantState `json:"participants"`
	Metadata     Metadata                    `json:"metadata"`
	Created      time.Time                   `json:"created"`
	Updated      time.Time                   `json:"updated"`
}

// Clone returns a deep copy safe to hand outside the store's locks.
// Message pointers are shared; messages are immutable once appended.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:           c.ID,
		Messages:     make([]*Message, len(c.Messages)),
		Participants: make(map[Source]ParticipantState, len(c.Participants)),
		Metadata: Metadata{
			Title:   c.Metadata.Title,
			Summary: c.Metadata.Summary,
			Tags:    append([]string(nil), c.Metadata.Tags...),
		},
		Created: c.Created,
		Updated: c.Updated,
	}
	copy(out.Messages, c.Messages)
	for src, state := range c.Participants {
		out.Participants[src] = state
	}
	return out
}

// Stats aggregates counts across the whole store
type Stats struct {
	Conversations    int            `json:"conversations"`
	Messages         int            `json:"messages"`
	MessagesBySource map[Source]int `json:"messagesBySource"`
	Oldest           *time.Time     `json:"oldest,omitempty"`
	Newest           *time.Time     `json:"newest,omitempty"`
}

// Backend is the durable side of the store. The in-memory table and the
// debounced write scheduling live in ConversationStore; a Backend only has
// to load, save and delete whole-conversation snapshots.
type Backend interface {
	LoadAll(ctx context.Context) ([]*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
