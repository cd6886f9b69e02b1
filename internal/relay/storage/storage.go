// Package storage defines the persistent records and store contracts the
// relay depends on.
package storage

import (
	"context"
	"time"

	"github.com/deskrelay/deskrelay/internal/platform/errors"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationOpen accepts new messages and is the canonical target of
	// find-or-create for its owner.
	ConversationOpen ConversationStatus = "open"
	// ConversationClosed has been resolved by the support desk.
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is a persistent thread between one user and the support desk.
type Conversation struct {
	ID            string
	OwnerIdentity string
	Status        ConversationStatus
	AssignedAgent string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one immutable entry in a conversation.
//
// Ordering is by CreatedAt with ties broken by insertion order.
type Message struct {
	ID             string
	ConversationID string
	SenderRole     token.Role
	SenderIdentity string
	Text           string
	CreatedAt      time.Time
}

// NewMessage carries the caller-supplied fields of a message before the
// store assigns its id and creation time.
type NewMessage struct {
	ConversationID string
	SenderRole     token.Role
	SenderIdentity string
	Text           string
}

// ConversationStore persists conversation records.
type ConversationStore interface {
	// CreateConversation inserts an open conversation owned by ownerIdentity.
	CreateConversation(ctx context.Context, ownerIdentity string) (Conversation, error)
	// FindOpenByOwner returns the newest open conversation owned by
	// ownerIdentity, or ErrNotFound. Older open conversations are left alone.
	FindOpenByOwner(ctx context.Context, ownerIdentity string) (Conversation, error)
	// FindConversation returns the conversation with the given id, or ErrNotFound.
	FindConversation(ctx context.Context, id string) (Conversation, error)
	// AssignAgent records the agent working the conversation.
	AssignAgent(ctx context.Context, id string, agentIdentity string) error
	// CloseConversation transitions the conversation to closed.
	CloseConversation(ctx context.Context, id string) error
}

// MessageStore persists messages.
type MessageStore interface {
	// CreateMessage inserts a message and returns it with the generated id
	// and creation time filled in.
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	// FindMessagePage returns up to limit messages with CreatedAt strictly
	// before the given time (all when before is zero), newest first.
	FindMessagePage(ctx context.Context, conversationID string, limit int, before time.Time) ([]Message, error)
}
