package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mindwell-ai/conductor/internal/sse"
)

// CreateMessage persists one message row. When ClientMessageID is present the
// write is an upsert keyed on (conversation_id, client_message_id): a retry
// or a partial-then-final pair for the same client id updates the existing
// row instead of inserting a duplicate. The conversation's message_count is
// incremented only on a fresh insert.
func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (string, error) {
	var sourcesJSON interface{}
	if len(p.Sources) > 0 {
		raw, err := json.Marshal(p.Sources)
		if err != nil {
			return "", fmt.Errorf("failed to marshal sources: %w", err)
		}
		sourcesJSON = raw
	}

	messageID := uuid.New().String()

	var (
		id       string
		inserted bool
	)
	if p.ClientMessageID != "" {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO messages (id, client_message_id, conversation_id, user_id, role, content, thinking, model_type, sources)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
			ON CONFLICT (conversation_id, client_message_id) WHERE client_message_id IS NOT NULL
			DO UPDATE SET content = EXCLUDED.content,
			              thinking = EXCLUDED.thinking,
			              sources = EXCLUDED.sources
			RETURNING id, (xmax = 0)`,
			messageID, p.ClientMessageID, p.ConversationID, p.UserID, p.Role,
			p.Content, p.Thinking, p.ModelType, sourcesJSON)
		if err := row.Scan(&id, &inserted); err != nil {
			return "", fmt.Errorf("failed to upsert message: %w", err)
		}
	} else {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, user_id, role, content, thinking, model_type, sources)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`,
			messageID, p.ConversationID, p.UserID, p.Role,
			p.Content, p.Thinking, p.ModelType, sourcesJSON)
		if err != nil {
			return "", fmt.Errorf("failed to insert message: %w", err)
		}
		id = messageID
		inserted = true
	}

	if inserted {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conversations
			SET message_count = message_count + 1, updated_at = NOW()
			WHERE id = $1`,
			p.ConversationID)
		if err != nil {
			return "", fmt.Errorf("failed to bump message count: %w", err)
		}
	}

	return id, nil
}

// GetMessage fetches one message scoped to its owner.
func (s *Store) GetMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(client_message_id, ''), conversation_id, user_id, role,
		       content, COALESCE(thinking, ''), COALESCE(model_type, ''), sources, created_at
		FROM messages
		WHERE id = $1 AND user_id = $2`,
		messageID, userID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetMessageByClientID fetches a message by its client-supplied id.
func (s *Store) GetMessageByClientID(ctx context.Context, conversationID, clientMessageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(client_message_id, ''), conversation_id, user_id, role,
		       content, COALESCE(thinking, ''), COALESCE(model_type, ''), sources, created_at
		FROM messages
		WHERE conversation_id = $1 AND client_message_id = $2`,
		conversationID, clientMessageID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// RecentMessages returns up to limit turns of a conversation, newest first.
// System rows are excluded; the window builder supplies its own prompt.
func (s *Store) RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(client_message_id, ''), conversation_id, user_id, role,
		       content, COALESCE(thinking, ''), COALESCE(model_type, ''), sources, created_at
		FROM messages
		WHERE conversation_id = $1 AND user_id = $2 AND role IN ('user', 'assistant')
		ORDER BY created_at DESC
		LIMIT $3`,
		conversationID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m          Message
		sourcesRaw []byte
	)
	err := row.Scan(&m.ID, &m.ClientMessageID, &m.ConversationID, &m.UserID, &m.Role,
		&m.Content, &m.Thinking, &m.ModelType, &sourcesRaw, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(sourcesRaw) > 0 {
		var sources []sse.Source
		if err := json.Unmarshal(sourcesRaw, &sources); err == nil {
			m.Sources = sources
		}
	}
	return &m, nil
}
