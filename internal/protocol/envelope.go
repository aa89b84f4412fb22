// ABOUTME: Typed wire envelopes exchanged between dispatcher and connections
// ABOUTME: Constructors stamp timestamps; payload shapes match the JSON contract

package protocol

import (
	"time"

	"github.com/confab-dev/confab/internal/store"
)

// EnvelopeType discriminates the wire envelope payload
type EnvelopeType string

const (
	EnvelopeMessage  EnvelopeType = "message"
	EnvelopePresence EnvelopeType = "presence"
	EnvelopeTyping   EnvelopeType = "typing"
	EnvelopeSync     EnvelopeType = "sync"
	EnvelopeError    EnvelopeType = "error"
)

// PresenceAction is the kind of presence transition being announced
type PresenceAction string

const (
	PresenceJoined       PresenceAction = "joined"
	PresenceDisconnected PresenceAction = "disconnected"
)

// Envelope is the single wire event type. Data is one of MessagePayload,
// PresencePayload, TypingPayload, SyncPayload or ErrorPayload according to
// Type. Timestamps serialize as ISO-8601.
type Envelope struct {
	Type           EnvelopeType `json:"type"`
	ConversationID string       `json:"conversationId"`
	Source         store.Source `json:"source"`
	Data           any          `json:"data"`
	Timestamp      time.Time    `json:"timestamp"`
}

// MessagePayload carries a persisted message
type MessagePayload struct {
	Message *store.Message `json:"message"`
}

// PresencePayload announces a join or disconnect. Never persisted.
type PresencePayload struct {
	Action PresenceAction `json:"action"`
	Source store.Source   `json:"source"`
}

// TypingPayload signals that a source is composing. Never persisted.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// SyncPayload carries recent history to a joining connection, ascending
// temporal order. Sent exactly once per subscribe, to the joiner only.
type SyncPayload struct {
	Messages []*store.Message `json:"messages"`
}

// ErrorPayload reports a rejected submission back to its sender
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessageEnvelope wraps a freshly appended message for fan-out
func NewMessageEnvelope(msg *store.Message) *Envelope {
	return &Envelope{
		Type:           EnvelopeMessage,
		ConversationID: msg.ConversationID,
		Source:         msg.Source,
		Data:           MessagePayload{Message: msg},
		Timestamp:      msg.Timestamp,
	}
}

// NewPresenceEnvelope announces a presence transition for src
func NewPresenceEnvelope(conversationID string, src store.Source, action PresenceAction) *Envelope {
	return &Envelope{
		Type:           EnvelopePresence,
		ConversationID: conversationID,
		Source:         src,
		Data:           PresencePayload{Action: action, Source: src},
		Timestamp:      time.Now().UTC(),
	}
}

// NewTypingEnvelope signals composing state for src
func NewTypingEnvelope(conversationID string, src store.Source, isTyping bool) *Envelope {
	return &Envelope{
		Type:           EnvelopeTyping,
		ConversationID: conversationID,
		Source:         src,
		Data:           TypingPayload{IsTyping: isTyping},
		Timestamp:      time.Now().UTC(),
	}
}

// NewSyncEnvelope packages recent history for a joining connection
func NewSyncEnvelope(conversationID string, msgs []*store.Message) *Envelope {
	return &Envelope{
		Type:           EnvelopeSync,
		ConversationID: conversationID,
		Data:           SyncPayload{Messages: msgs},
		Timestamp:      time.Now().UTC(),
	}
}

// NewErrorEnvelope reports a rejected operation back to the sender
func NewErrorEnvelope(conversationID, code, message string) *Envelope {
	return &Envelope{
		Type:           EnvelopeError,
		ConversationID: conversationID,
		Data:           ErrorPayload{Code: code, Message: message},
		Timestamp:      time.Now().UTC(),
	}
}
