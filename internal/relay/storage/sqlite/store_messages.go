package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/deskrelay/deskrelay/internal/platform/errors"
	"github.com/deskrelay/deskrelay/internal/relay/storage"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

// maxTextRunes caps stored message text length.
const maxTextRunes = 2000

// CreateMessage inserts a message and returns it with the generated id and
// creation time filled in.
func (s *Store) CreateMessage(ctx context.Context, msg storage.NewMessage) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Message{}, fmt.Errorf("storage is not configured")
	}
	conversationID := strings.TrimSpace(msg.ConversationID)
	if conversationID == "" {
		return storage.Message{}, apperrors.New(apperrors.CodeMessageConversationEmpty, "conversation id is required")
	}
	switch msg.SenderRole {
	case token.RoleUser, token.RoleAgent, token.RoleBot:
	default:
		return storage.Message{}, apperrors.WithMetadata(apperrors.CodeMessageInvalidSenderRole, "invalid sender role", map[string]string{"role": string(msg.SenderRole)})
	}
	if msg.Text == "" {
		return storage.Message{}, apperrors.New(apperrors.CodeMessageTextEmpty, "text is required")
	}
	if utf8.RuneCountInString(msg.Text) > maxTextRunes {
		return storage.Message{}, apperrors.New(apperrors.CodeMessageTextTooLong, "text must be at most 2000 characters")
	}

	record := storage.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderRole:     msg.SenderRole,
		SenderIdentity: strings.TrimSpace(msg.SenderIdentity),
		Text:           msg.Text,
		CreatedAt:      fromMillis(toMillis(s.now())),
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (
		   id,
		   conversation_id,
		   sender_role,
		   sender_identity,
		   text,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ConversationID,
		string(record.SenderRole),
		record.SenderIdentity,
		record.Text,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return storage.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return record, nil
}

// FindMessagePage returns up to limit messages created strictly before the
// given time (all when before is zero), newest first with ties broken by
// insertion order.
func (s *Store) FindMessagePage(ctx context.Context, conversationID string, limit int, before time.Time) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperrors.New(apperrors.CodeMessageConversationEmpty, "conversation id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := `SELECT id, conversation_id, sender_role, sender_identity, text, created_at
	          FROM messages
	          WHERE conversation_id = ?`
	args := []any{conversationID}
	if !before.IsZero() {
		query += " AND created_at < ?"
		args = append(args, toMillis(before))
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.Message
	for rows.Next() {
		var msg storage.Message
		var role string
		var createdAt int64
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.SenderIdentity,
			&msg.Text,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SenderRole = token.Role(role)
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
