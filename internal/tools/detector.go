package tools

import (
	"strings"

	"github.com/mindwell-ai/conductor/internal/llm"
)

// CallDetector accumulates native tool calls from stream deltas.
// Providers fragment the arguments string across chunks; deltas are
// buffered by index until finish_reason reports "tool_calls".
type CallDetector struct {
	calls        map[int]*bufferedCall
	finishReason string
	hasCalls     bool
}

type bufferedCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// NewCallDetector creates a detector for one completion pass.
func NewCallDetector() *CallDetector {
	return &CallDetector{calls: make(map[int]*bufferedCall)}
}

// ProcessChunk feeds one stream chunk. Returns true if the chunk carried
// tool-call data (such chunks are suppressed from the client stream).
func (d *CallDetector) ProcessChunk(chunk llm.Chunk) bool {
	if chunk.FinishReason != "" {
		d.finishReason = chunk.FinishReason
	}

	if len(chunk.ToolCalls) == 0 {
		return false
	}

	d.hasCalls = true
	for _, delta := range chunk.ToolCalls {
		call, exists := d.calls[delta.Index]
		if !exists {
			call = &bufferedCall{id: delta.ID, name: delta.Name}
			d.calls[delta.Index] = call
		}
		if call.id == "" {
			call.id = delta.ID
		}
		if call.name == "" {
			call.name = delta.Name
		}
		call.arguments.WriteString(delta.Arguments)
	}
	return true
}

// IsComplete reports whether the model finished with tool calls pending.
func (d *CallDetector) IsComplete() bool {
	return d.hasCalls && d.finishReason == "tool_calls"
}

// HasCalls reports whether any tool-call deltas were observed.
func (d *CallDetector) HasCalls() bool {
	return d.hasCalls
}

// Calls returns the accumulated calls in index order.
func (d *CallDetector) Calls() []Call {
	if !d.IsComplete() {
		return nil
	}
	result := make([]Call, 0, len(d.calls))
	for i := 0; i < len(d.calls); i++ {
		buffered, exists := d.calls[i]
		if !exists {
			continue
		}
		args := buffered.arguments.String()
		if args == "" {
			args = "{}"
		}
		result = append(result, Call{ID: buffered.id, Tool: buffered.name, Input: args})
	}
	return result
}
