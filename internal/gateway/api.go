// ABOUTME: REST surface for the integration source and read-side queries
// ABOUTME: Submissions enter the same dispatcher path as WebSocket frames

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/confab-dev/confab/internal/protocol"
	"github.com/confab-dev/confab/internal/store"
)

// handleSubmitMessage accepts the inbound submission contract from
// non-socket callers: {conversationId, role, content, source}. The
// dispatcher assigns id and timestamp; the appended message is echoed back.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var sub protocol.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed body: "+err.Error())
		return
	}
	if sub.Source == "" {
		sub.Source = store.SourceIntegration
	}

	msg, err := s.dispatcher.SubmitMessage(&sub, "")
	if err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// handleListConversations returns all conversations, most recently active first
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetAllConversations())
}

// handleGetConversation returns one conversation or 404; read paths never
// auto-create.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleGetMessages returns the last ?limit= messages in ascending order
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := s.store.GetRecentMessages(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSearch matches ?q= case-insensitively against message content and
// conversation metadata
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}
	results := s.store.SearchConversations(q)
	if results == nil {
		results = []*store.Conversation{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleUpdateMetadata replaces a conversation's title/summary/tags
func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var meta store.Metadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed body: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.UpdateMetadata(id, meta); err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	conv, err := s.store.GetConversation(id)
	if err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation removes a conversation from memory and disk
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConversation(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns aggregate store counts
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetStats())
}

// handleHealth probes the persistence backend
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
