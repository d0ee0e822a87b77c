package chat

import (
	"context"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/memory"
	"github.com/mindwell-ai/conductor/internal/store"
)

// historyRepo is the slice of the repository the history source needs.
type historyRepo interface {
	RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]store.Message, error)
}

// historySource adapts the message repository to the context window
// builder's contract.
type historySource struct {
	repo historyRepo
}

// NewHistorySource wraps a repository for use by the memory builder.
func NewHistorySource(repo historyRepo) memory.HistorySource {
	return &historySource{repo: repo}
}

// RecentMessages returns past turns newest first.
func (h *historySource) RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]llm.Message, error) {
	rows, err := h.repo.RecentMessages(ctx, conversationID, userID, limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, llm.Message{Role: row.Role, Content: row.Content})
	}
	return msgs, nil
}
