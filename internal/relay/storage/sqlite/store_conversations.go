package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/deskrelay/deskrelay/internal/platform/errors"
	"github.com/deskrelay/deskrelay/internal/relay/storage"
)

// CreateConversation inserts an open conversation owned by ownerIdentity.
func (s *Store) CreateConversation(ctx context.Context, ownerIdentity string) (storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Conversation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Conversation{}, fmt.Errorf("storage is not configured")
	}
	ownerIdentity = strings.TrimSpace(ownerIdentity)
	if ownerIdentity == "" {
		return storage.Conversation{}, apperrors.New(apperrors.CodeConversationOwnerEmpty, "owner identity is required")
	}

	now := fromMillis(toMillis(s.now()))
	conversation := storage.Conversation{
		ID:            uuid.NewString(),
		OwnerIdentity: ownerIdentity,
		Status:        storage.ConversationOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO conversations (
		   id,
		   owner_identity,
		   status,
		   assigned_agent,
		   created_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		conversation.ID,
		conversation.OwnerIdentity,
		string(conversation.Status),
		conversation.AssignedAgent,
		toMillis(conversation.CreatedAt),
		toMillis(conversation.UpdatedAt),
	)
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conversation, nil
}

// FindOpenByOwner returns the newest open conversation owned by ownerIdentity.
func (s *Store) FindOpenByOwner(ctx context.Context, ownerIdentity string) (storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Conversation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Conversation{}, fmt.Errorf("storage is not configured")
	}
	ownerIdentity = strings.TrimSpace(ownerIdentity)
	if ownerIdentity == "" {
		return storage.Conversation{}, apperrors.New(apperrors.CodeConversationOwnerEmpty, "owner identity is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner_identity, status, assigned_agent, created_at, updated_at
		 FROM conversations
		 WHERE owner_identity = ? AND status = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		ownerIdentity,
		string(storage.ConversationOpen),
	)
	return scanConversation(row)
}

// FindConversation returns the conversation with the given id.
func (s *Store) FindConversation(ctx context.Context, id string) (storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Conversation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Conversation{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Conversation{}, apperrors.New(apperrors.CodeConversationIDEmpty, "conversation id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner_identity, status, assigned_agent, created_at, updated_at
		 FROM conversations
		 WHERE id = ?`,
		id,
	)
	return scanConversation(row)
}

// AssignAgent records the agent working the conversation.
func (s *Store) AssignAgent(ctx context.Context, id string, agentIdentity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	agentIdentity = strings.TrimSpace(agentIdentity)
	if id == "" {
		return apperrors.New(apperrors.CodeConversationIDEmpty, "conversation id is required")
	}
	if agentIdentity == "" {
		return fmt.Errorf("agent identity is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE conversations SET assigned_agent = ?, updated_at = ? WHERE id = ?`,
		agentIdentity,
		toMillis(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}
	return requireRowUpdated(result)
}

// CloseConversation transitions the conversation to closed.
func (s *Store) CloseConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.New(apperrors.CodeConversationIDEmpty, "conversation id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(storage.ConversationClosed),
		toMillis(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	return requireRowUpdated(result)
}

func requireRowUpdated(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanConversation(row *sql.Row) (storage.Conversation, error) {
	var conversation storage.Conversation
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(
		&conversation.ID,
		&conversation.OwnerIdentity,
		&status,
		&conversation.AssignedAgent,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return storage.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conversation.Status = storage.ConversationStatus(status)
	conversation.CreatedAt = fromMillis(createdAt)
	conversation.UpdatedAt = fromMillis(updatedAt)
	return conversation, nil
}
