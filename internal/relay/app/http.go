package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deskrelay/deskrelay/internal/relay/storage"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// apiHandler serves the request-style entry points: conversation start and
// history retrieval.
type apiHandler struct {
	verifier      credentialVerifier
	conversations storage.ConversationStore
	messages      storage.MessageStore
}

type startConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type historyResponse struct {
	Messages []messagePayload `json:"messages"`
}

// handleStartConversation returns the caller's open conversation, creating
// one lazily on first use. Repeated calls while the conversation stays open
// return the same id.
func (h *apiHandler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	conversation, err := h.conversations.FindOpenByOwner(r.Context(), identity.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		conversation, err = h.conversations.CreateConversation(r.Context(), identity.Subject)
	}
	if err != nil {
		log.Printf("relay: start conversation failed subject=%q err=%v", identity.Subject, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, startConversationResponse{ConversationID: conversation.ID})
}

// handleHistory returns a page of a conversation's messages in chronological
// order. The page is fetched newest-first for efficient "most recent N"
// retrieval and reversed before responding.
func (h *apiHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	conversationID := strings.TrimSpace(r.PathValue("conversationID"))
	if conversationID == "" {
		http.Error(w, "conversation id is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var before time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "before must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		before = parsed
	}

	page, err := h.messages.FindMessagePage(r.Context(), conversationID, limit, before)
	if err != nil {
		log.Printf("relay: history lookup failed conversation=%q err=%v", conversationID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Reverse the newest-first page into chronological order.
	messages := make([]messagePayload, 0, len(page))
	for idx := len(page) - 1; idx >= 0; idx-- {
		messages = append(messages, toMessagePayload(page[idx]))
	}

	writeJSON(w, http.StatusOK, historyResponse{Messages: messages})
}

// authenticate verifies the request credential and writes the 401 rejection
// itself when verification fails. This is the only caller-visible error the
// relay surfaces.
func (h *apiHandler) authenticate(w http.ResponseWriter, r *http.Request) (token.Identity, bool) {
	accessToken := accessTokenFromRequest(r)
	if accessToken == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return token.Identity{}, false
	}
	identity, err := h.verifier.Verify(accessToken)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return token.Identity{}, false
	}
	return identity, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("relay: write json response: %v", err)
	}
}
