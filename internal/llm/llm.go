// Package llm defines the model-backend contract and the OpenAI-compatible
// chat-completions wire shapes shared by the streaming loops and the tool
// dispatcher.
package llm

import "context"

// Model type identifiers accepted on chat requests.
const (
	ModelTypeLocal   = "local"
	ModelTypeVolcano = "volcano"
)

// Message is one turn in the conversation sent upstream.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition is an OpenAI-compatible function definition.
type ToolDefinition struct {
	Type     string      `json:"type"` // always "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef defines the function schema.
type FunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall represents a function call request surfaced by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request describes one streaming completion call.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ToolCallDelta is one incremental piece of a native tool call.
// Arguments arrive fragmented across chunks and are accumulated by index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one decoded piece of the upstream token stream.
type Chunk struct {
	Content      string
	Thinking     string // reasoning_content delta, when the backend surfaces one
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// StreamHandle yields chunks from one in-flight completion.
type StreamHandle interface {
	// Recv returns the next chunk. io.EOF signals normal completion.
	Recv() (Chunk, error)
	// Cancel aborts the upstream request. Safe to call concurrently with
	// Recv and after completion.
	Cancel()
}

// Backend is one model provider.
type Backend interface {
	// Name returns the backend's model-type identifier.
	Name() string
	// Stream starts a streaming completion.
	Stream(ctx context.Context, req Request) (StreamHandle, error)
	// DefaultModel returns the model id used when the request names none.
	DefaultModel() string
}
