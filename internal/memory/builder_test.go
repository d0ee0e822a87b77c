package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
)

// fakeHistory returns a fixed newest-first history.
type fakeHistory struct {
	messages []llm.Message
	err      error
}

func (f *fakeHistory) RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]llm.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.messages) {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func newTestBuilder(history HistorySource, cfg Config) *Builder {
	return NewBuilder(history, cfg, logger.New(logger.Config{Level: slog.LevelError}))
}

func TestBuildAlwaysKeepsSystemAndCurrent(t *testing.T) {
	b := newTestBuilder(&fakeHistory{}, DefaultConfig())

	window := b.Build(context.Background(), "conv-1", "user-1", "hello", "be helpful")
	require.Len(t, window, 2)
	assert.Equal(t, "system", window[0].Role)
	assert.Equal(t, "be helpful", window[0].Content)
	assert.Equal(t, "user", window[1].Role)
	assert.Equal(t, "hello", window[1].Content)
}

func TestBuildOmitsEmptySystemPrompt(t *testing.T) {
	b := newTestBuilder(&fakeHistory{}, DefaultConfig())

	window := b.Build(context.Background(), "conv-1", "user-1", "hello", "")
	require.Len(t, window, 1)
	assert.Equal(t, "user", window[0].Role)
}

func TestBuildOrdersHistoryOldestFirst(t *testing.T) {
	// newest first, as the source contract requires
	history := &fakeHistory{messages: []llm.Message{
		{Role: "assistant", Content: "third"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "first"},
	}}
	b := newTestBuilder(history, DefaultConfig())

	window := b.Build(context.Background(), "conv-1", "user-1", "now", "sys")
	require.Len(t, window, 5)
	assert.Equal(t, "first", window[1].Content)
	assert.Equal(t, "second", window[2].Content)
	assert.Equal(t, "third", window[3].Content)
	assert.Equal(t, "now", window[4].Content)
}

func TestBuildTruncatesHistoryToBudget(t *testing.T) {
	// Each turn estimates to ~34 tokens (100 chars / 3 + 1).
	var msgs []llm.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, llm.Message{Role: "user", Content: strings.Repeat(fmt.Sprintf("%d", i), 100)})
	}
	b := newTestBuilder(&fakeHistory{messages: msgs}, Config{
		WindowSize: 40,
		MaxTokens:  EstimateTokens("sys") + EstimateTokens("now") + 3*34,
	})

	window := b.Build(context.Background(), "conv-1", "user-1", "now", "sys")
	// system + 3 newest turns + current
	require.Len(t, window, 5)
	assert.Equal(t, strings.Repeat("2", 100), window[1].Content)
	assert.Equal(t, strings.Repeat("0", 100), window[3].Content)
}

func TestBuildKeywordMatchPullsOlderTurns(t *testing.T) {
	history := &fakeHistory{messages: []llm.Message{
		{Role: "user", Content: strings.Repeat("recent filler ", 30)},
		{Role: "user", Content: strings.Repeat("unrelated chatter about lunch ", 10)},
		{Role: "user", Content: "the kubernetes deployment rollout failed yesterday"},
	}}
	budget := EstimateTokens("sys") + EstimateTokens("kubernetes deployment advice") +
		EstimateTokens(history.messages[0].Content) +
		EstimateTokens(history.messages[2].Content) + 1
	b := newTestBuilder(history, Config{
		WindowSize:         40,
		MaxTokens:          budget,
		EnableKeywordMatch: true,
		KeywordMatchCount:  3,
	})

	window := b.Build(context.Background(), "conv-1", "user-1", "kubernetes deployment advice", "sys")

	var contents []string
	for _, m := range window {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "the kubernetes deployment rollout failed yesterday")
	assert.NotContains(t, contents, history.messages[1].Content)
}

func TestBuildHistoryErrorDegrades(t *testing.T) {
	b := newTestBuilder(&fakeHistory{err: fmt.Errorf("db down")}, DefaultConfig())

	window := b.Build(context.Background(), "conv-1", "user-1", "hello", "sys")
	require.Len(t, window, 2)
}

func TestBuildSkipsHistoryWithoutConversation(t *testing.T) {
	history := &fakeHistory{messages: []llm.Message{{Role: "user", Content: "old"}}}
	b := newTestBuilder(history, DefaultConfig())

	window := b.Build(context.Background(), "", "user-1", "hello", "sys")
	require.Len(t, window, 2)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abc"))
	assert.Equal(t, 34, EstimateTokens(strings.Repeat("a", 100)))
}

func TestExtractKeywords(t *testing.T) {
	kws := extractKeywords("Please explain the Kubernetes rollout, then summarize!")
	assert.Contains(t, kws, "kubernetes")
	assert.Contains(t, kws, "rollout")
	assert.NotContains(t, kws, "please")
	assert.NotContains(t, kws, "the")
}

func TestMatchesKeywords(t *testing.T) {
	kws := []string{"kubernetes", "deployment", "rollout"}
	assert.True(t, matchesKeywords("the Kubernetes deployment failed", kws))
	assert.False(t, matchesKeywords("only kubernetes mentioned", kws))
	assert.False(t, matchesKeywords("nothing relevant", nil))

	short := []string{"kubernetes"}
	assert.True(t, matchesKeywords("kubernetes only", short))
}
