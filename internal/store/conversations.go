package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// titleMaxLen caps generated conversation titles.
const titleMaxLen = 50

// TitleFromMessage derives a conversation title from its first message.
func TitleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if utf8.RuneCountInString(title) > titleMaxLen {
		runes := []rune(title)
		title = string(runes[:titleMaxLen])
	}
	return title
}

// EnsureConversation returns the conversation, creating it when absent.
// A blank conversationID allocates a fresh one.
func (s *Store) EnsureConversation(ctx context.Context, conversationID, userID, firstMessage string) (*Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	title := TitleFromMessage(firstMessage)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, title, message_count, is_active, created_at, updated_at`,
		conversationID, userID, title)

	return scanConversation(row)
}

// GetConversation fetches one conversation scoped to its owner.
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message_count, is_active, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2`,
		conversationID, userID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// TouchConversation bumps updated_at.
func (s *Store) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
