package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/deskrelay/deskrelay/internal/relay/storage"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageTextRunes = 2000
)

// Inbound and outbound frame types of the relay protocol.
const (
	frameJoinConversation = "join_conversation"
	frameUserMessage      = "user_message"
	frameAgentMessage     = "agent_message"
	frameMessageNew       = "message_new"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	ConversationID string `json:"conversation_id"`
}

type sendPayload struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type messagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
}

func toMessagePayload(msg storage.Message) messagePayload {
	return messagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderRole:     string(msg.SenderRole),
		SenderID:       msg.SenderIdentity,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// dropReason tags why an inbound event was discarded. Authorization,
// validation, and not-found failures are deliberately indistinguishable
// from the remote peer's point of view: nothing is transmitted back, so a
// prober cannot learn whether a conversation exists or who owns it.
type dropReason string

const (
	dropNone                dropReason = ""
	dropMalformedPayload    dropReason = "malformed_payload"
	dropUnknownConversation dropReason = "unknown_conversation"
	dropForbidden           dropReason = "forbidden"
	dropInvalidText         dropReason = "invalid_text"
	dropStoreFailure        dropReason = "store_failure"
	dropUnsupportedFrame    dropReason = "unsupported_frame"
)

// wsSession binds a live connection to the identity claim established at
// connect time. Reconnects build a fresh session from a re-verified token.
type wsSession struct {
	identity token.Identity
	peer     *wsPeer
}

func newWSSession(identity token.Identity, peer *wsPeer) *wsSession {
	return &wsSession{identity: identity, peer: peer}
}

// relay authorizes join/send events per role, persists accepted messages
// exactly once, and fans them out to the conversation's current room.
type relay struct {
	registry      *roomRegistry
	conversations storage.ConversationStore
	messages      storage.MessageStore
}

func newRelay(registry *roomRegistry, conversations storage.ConversationStore, messages storage.MessageStore) *relay {
	return &relay{
		registry:      registry,
		conversations: conversations,
		messages:      messages,
	}
}

// handleJoin registers the session's connection under the conversation when
// the identity owns it or carries a staff role.
func (r *relay) handleJoin(ctx context.Context, session *wsSession, frame wsFrame) dropReason {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ConversationID == "" {
		return dropMalformedPayload
	}

	conversation, err := r.conversations.FindConversation(ctx, payload.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return dropUnknownConversation
	}
	if err != nil {
		log.Printf("relay: join lookup failed conversation=%q err=%v", payload.ConversationID, err)
		return dropStoreFailure
	}

	if !isOwner(session.identity, conversation) && !session.identity.Role.IsStaff() {
		return dropForbidden
	}

	r.registry.join(conversation.ID, session.peer)
	return dropNone
}

// handleUserMessage persists and broadcasts a message on the ownership path:
// the conversation must exist and belong to the sender, role is irrelevant.
func (r *relay) handleUserMessage(ctx context.Context, session *wsSession, frame wsFrame) dropReason {
	var payload sendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ConversationID == "" {
		return dropMalformedPayload
	}
	if reason := validateText(payload.Text); reason != dropNone {
		return reason
	}

	conversation, err := r.conversations.FindConversation(ctx, payload.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return dropForbidden
	}
	if err != nil {
		log.Printf("relay: send lookup failed conversation=%q err=%v", payload.ConversationID, err)
		return dropStoreFailure
	}
	if !isOwner(session.identity, conversation) {
		return dropForbidden
	}

	return r.persistAndBroadcast(ctx, storage.NewMessage{
		ConversationID: conversation.ID,
		SenderRole:     token.RoleUser,
		SenderIdentity: session.identity.Subject,
		Text:           payload.Text,
	})
}

// handleAgentMessage persists and broadcasts a message on the staff path.
// The conversation is not loaded: any conversation id is accepted as long as
// the sender's role qualifies.
func (r *relay) handleAgentMessage(ctx context.Context, session *wsSession, frame wsFrame) dropReason {
	var payload sendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ConversationID == "" {
		return dropMalformedPayload
	}
	if !session.identity.Role.IsStaff() {
		return dropForbidden
	}
	if reason := validateText(payload.Text); reason != dropNone {
		return reason
	}

	return r.persistAndBroadcast(ctx, storage.NewMessage{
		ConversationID: payload.ConversationID,
		SenderRole:     token.RoleAgent,
		SenderIdentity: session.identity.Subject,
		Text:           payload.Text,
	})
}

// persistAndBroadcast writes the message, then fans the persisted record out
// to every connection currently joined to the conversation, sender included.
// No lock is held across the persistence call; the store's write order
// determines the final per-conversation ordering.
func (r *relay) persistAndBroadcast(ctx context.Context, msg storage.NewMessage) dropReason {
	persisted, err := r.messages.CreateMessage(ctx, msg)
	if err != nil {
		log.Printf("relay: persist message failed conversation=%q err=%v", msg.ConversationID, err)
		return dropStoreFailure
	}

	frame := wsFrame{
		Type:    frameMessageNew,
		Payload: mustJSON(toMessagePayload(persisted)),
	}
	for _, peer := range r.registry.peers(persisted.ConversationID) {
		if err := peer.writeFrame(frame); err != nil {
			log.Printf("relay: broadcast write failed conversation=%q err=%v", persisted.ConversationID, err)
		}
	}
	return dropNone
}

// disconnect removes the session's connection from every room it had joined.
func (r *relay) disconnect(session *wsSession) {
	r.registry.dropPeer(session.peer)
}

func isOwner(identity token.Identity, conversation storage.Conversation) bool {
	return identity.Subject != "" && identity.Subject == conversation.OwnerIdentity
}

func validateText(text string) dropReason {
	if text == "" {
		return dropInvalidText
	}
	if utf8.RuneCountInString(text) > maxMessageTextRunes {
		return dropInvalidText
	}
	return dropNone
}

// handleWSConn runs one connection's event loop. Events from this connection
// are handled sequentially; distinct connections run concurrently and meet
// only inside the registry and the stores.
func handleWSConn(conn *websocket.Conn, rel *relay, identity token.Identity) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	session := newWSSession(identity, newWSPeer(json.NewEncoder(conn)))
	defer rel.disconnect(session)

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			return
		}

		if reason := dispatchFrame(ctx, rel, session, frame); reason != dropNone {
			log.Printf("relay: dropped frame type=%q subject=%q reason=%q", frame.Type, session.identity.Subject, reason)
		}
	}
}

func dispatchFrame(ctx context.Context, rel *relay, session *wsSession, frame wsFrame) dropReason {
	switch frame.Type {
	case frameJoinConversation:
		return rel.handleJoin(ctx, session, frame)
	case frameUserMessage:
		return rel.handleUserMessage(ctx, session, frame)
	case frameAgentMessage:
		return rel.handleAgentMessage(ctx, session, frame)
	default:
		return dropUnsupportedFrame
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
