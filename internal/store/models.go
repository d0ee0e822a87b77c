package store

import (
	"time"

	"github.com/mindwell-ai/conductor/internal/sse"
)

// Conversation is an ordered container of messages owned by one user.
type Conversation struct {
	ID           string    `json:"conversationId"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is one user or assistant turn.
type Message struct {
	ID              string       `json:"messageId"`
	ClientMessageID string       `json:"clientMessageId,omitempty"`
	ConversationID  string       `json:"conversationId"`
	UserID          string       `json:"userId"`
	Role            string       `json:"role"`
	Content         string       `json:"content"`
	Thinking        string       `json:"thinking,omitempty"`
	ModelType       string       `json:"modelType,omitempty"`
	Sources         []sse.Source `json:"sources,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// CreateMessageParams are the inputs to CreateMessage.
type CreateMessageParams struct {
	ConversationID  string
	UserID          string
	Role            string
	Content         string
	ClientMessageID string
	ModelType       string
	Thinking        string
	Sources         []sse.Source
}
