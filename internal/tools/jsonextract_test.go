package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFirstBalancedObject(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantObj   string
		wantOK    bool
		remainder string
	}{
		{
			name:    "simple object",
			input:   `prefix {"a": 1} suffix`,
			wantObj: `{"a": 1}`,
			wantOK:  true, remainder: " suffix",
		},
		{
			name:    "nested braces",
			input:   `{"a": {"b": {"c": 2}}}`,
			wantObj: `{"a": {"b": {"c": 2}}}`,
			wantOK:  true,
		},
		{
			name:    "braces inside strings do not count",
			input:   `{"text": "some {weird} value"}`,
			wantObj: `{"text": "some {weird} value"}`,
			wantOK:  true,
		},
		{
			name:    "escaped quote inside string",
			input:   `{"text": "he said \"hi {\" ok"}`,
			wantObj: `{"text": "he said \"hi {\" ok"}`,
			wantOK:  true,
		},
		{
			name:    "truncated object is repaired",
			input:   `{"tool": "search_web", "input": {"query": "go`,
			wantObj: `{"tool": "search_web", "input": {"query": "go"}}`,
			wantOK:  true,
		},
		{
			name:    "truncated after trailing comma",
			input:   `{"a": 1,`,
			wantObj: `{"a": 1}`,
			wantOK:  true,
		},
		{
			name:   "no object at all",
			input:  "just some prose",
			wantOK: false,
		},
		{
			name:    "lone open brace repairs to empty object",
			input:   "{",
			wantObj: "{}",
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, remainder, ok := ExtractFirstBalancedObject(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantObj, obj)
			if tt.remainder != "" {
				assert.Equal(t, tt.remainder, remainder)
			}
		})
	}
}

func TestExtractEmbeddedCall(t *testing.T) {
	t.Run("fenced block has priority", func(t *testing.T) {
		text := "I should search.\n```json\n{\"tool\": \"search_web\", \"input\": {\"query\": \"go 1.24\"}}\n```"
		call, ok := ExtractEmbeddedCall(text)
		require.True(t, ok)
		assert.Equal(t, "search_web", call.Tool)
		assert.JSONEq(t, `{"query": "go 1.24"}`, call.Input)
	})

	t.Run("raw object", func(t *testing.T) {
		text := `Let me call {"tool": "search_web", "input": {"query": "x"}} now`
		call, ok := ExtractEmbeddedCall(text)
		require.True(t, ok)
		assert.Equal(t, "search_web", call.Tool)
	})

	t.Run("skips objects without tool field", func(t *testing.T) {
		text := `{"note": "irrelevant"} and then {"tool": "search_web", "input": {}}`
		call, ok := ExtractEmbeddedCall(text)
		require.True(t, ok)
		assert.Equal(t, "search_web", call.Tool)
	})

	t.Run("truncated call is repaired", func(t *testing.T) {
		text := `{"tool": "search_web", "input": {"query": "rust`
		call, ok := ExtractEmbeddedCall(text)
		require.True(t, ok)
		assert.Equal(t, "search_web", call.Tool)
	})

	t.Run("plain text is no call", func(t *testing.T) {
		_, ok := ExtractEmbeddedCall("The answer is 42.")
		assert.False(t, ok)
	})

	t.Run("missing input defaults to empty object", func(t *testing.T) {
		call, ok := ExtractEmbeddedCall(`{"tool": "search_web"}`)
		require.True(t, ok)
		assert.Equal(t, "{}", call.Input)
	})
}
