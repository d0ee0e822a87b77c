package tools

import (
	"context"
	"encoding/json"

	"github.com/mindwell-ai/conductor/internal/llm"
)

// Tool defines the interface for executable tools that models can call.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Definition returns the OpenAI-compatible function definition.
	Definition() llm.ToolDefinition

	// Execute runs the tool with the given JSON arguments and returns a
	// result string formatted for model consumption.
	Execute(ctx context.Context, args string) (string, error)
}

// Call is a normalized tool invocation extracted from model output,
// either from a native function call or an embedded JSON payload.
type Call struct {
	ID    string `json:"id,omitempty"`
	Tool  string `json:"tool"`
	Input string `json:"input"` // JSON-encoded arguments
}

// Record captures one executed call for history and metadata events.
type Record struct {
	Round     int    `json:"round"`
	Tool      string `json:"tool"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Success   bool   `json:"success"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ParseArguments is a helper to parse JSON arguments into a struct.
func ParseArguments(args string, target interface{}) error {
	return json.Unmarshal([]byte(args), target)
}
