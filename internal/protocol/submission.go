// ABOUTME: Inbound submission contract and its validation
// ABOUTME: Malformed submissions are rejected before any store or hub side effect

package protocol

import (
	"errors"
	"fmt"

	"github.com/confab-dev/confab/internal/store"
)

// ErrValidation is the sentinel wrapped by every submission validation
// failure. A submission failing validation produces no store or hub side
// effects; the sender gets an error envelope (or HTTP 400) synchronously.
var ErrValidation = errors.New("validation failed")

// Submission is the inbound message contract from any transport, including
// the integration's REST path. The dispatcher assigns id and timestamp.
type Submission struct {
	ConversationID string       `json:"conversationId"`
	Role           store.Role   `json:"role"`
	Content        string       `json:"content"`
	Source         store.Source `json:"source"`
}

// Validate checks the submission shape. All failures wrap ErrValidation.
func (s *Submission) Validate() error {
	if s.ConversationID == "" {
		return fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	if s.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if !s.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, s.Role)
	}
	if !s.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrValidation, s.Source)
	}
	return nil
}
