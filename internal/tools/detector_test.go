package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/llm"
)

func TestCallDetectorAccumulatesFragmentedArguments(t *testing.T) {
	d := NewCallDetector()

	assert.True(t, d.ProcessChunk(llm.Chunk{ToolCalls: []llm.ToolCallDelta{
		{Index: 0, ID: "call_1", Name: "search_web", Arguments: `{"que`},
	}}))
	assert.True(t, d.ProcessChunk(llm.Chunk{ToolCalls: []llm.ToolCallDelta{
		{Index: 0, Arguments: `ry": "go rele`},
	}}))
	assert.True(t, d.ProcessChunk(llm.Chunk{ToolCalls: []llm.ToolCallDelta{
		{Index: 0, Arguments: `ases"}`},
	}}))
	assert.False(t, d.IsComplete())

	d.ProcessChunk(llm.Chunk{FinishReason: "tool_calls"})
	require.True(t, d.IsComplete())

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "search_web", calls[0].Tool)
	assert.JSONEq(t, `{"query": "go releases"}`, calls[0].Input)
}

func TestCallDetectorMultipleCallsOrderedByIndex(t *testing.T) {
	d := NewCallDetector()
	d.ProcessChunk(llm.Chunk{ToolCalls: []llm.ToolCallDelta{
		{Index: 1, ID: "b", Name: "second", Arguments: "{}"},
		{Index: 0, ID: "a", Name: "first", Arguments: "{}"},
	}})
	d.ProcessChunk(llm.Chunk{FinishReason: "tool_calls"})

	calls := d.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Tool)
	assert.Equal(t, "second", calls[1].Tool)
}

func TestCallDetectorContentChunksPassThrough(t *testing.T) {
	d := NewCallDetector()
	assert.False(t, d.ProcessChunk(llm.Chunk{Content: "hello"}))
	d.ProcessChunk(llm.Chunk{FinishReason: "stop"})
	assert.False(t, d.IsComplete())
	assert.Nil(t, d.Calls())
}

func TestCallDetectorEmptyArgumentsDefault(t *testing.T) {
	d := NewCallDetector()
	d.ProcessChunk(llm.Chunk{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "x", Name: "noop"}}})
	d.ProcessChunk(llm.Chunk{FinishReason: "tool_calls"})

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Input)
}
