package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
)

// HistorySource provides past turns of a conversation, newest first.
type HistorySource interface {
	RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]llm.Message, error)
}

// Config tunes the context window builder.
type Config struct {
	WindowSize         int // max turns fetched from history
	MaxTokens          int // estimated token budget for the whole window
	EnableKeywordMatch bool
	KeywordMatchCount  int // older keyword-matched turns to pull back in
}

// DefaultConfig returns the builder defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:         40,
		MaxTokens:          6000,
		EnableKeywordMatch: true,
		KeywordMatchCount:  3,
	}
}

// Builder assembles the message window sent to the model. The system prompt
// and the current user message are always kept; history is truncated from
// the middle when the token estimate exceeds the budget.
type Builder struct {
	history HistorySource
	cfg     Config
	log     *logger.Logger
}

// NewBuilder creates a context window builder.
func NewBuilder(history HistorySource, cfg Config, log *logger.Logger) *Builder {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Builder{
		history: history,
		cfg:     cfg,
		log:     log.WithComponent("memory"),
	}
}

// EstimateTokens approximates the token count of text. The heuristic is
// chars/3, which overestimates for English and stays safe for CJK input.
func EstimateTokens(text string) int {
	return len(text)/3 + 1
}

// Build returns the ordered message window ending in the current user
// message. History errors degrade to a window of just the system prompt and
// the current message.
func (b *Builder) Build(ctx context.Context, conversationID, userID, currentMessage, systemPrompt string) []llm.Message {
	var history []llm.Message
	if b.history != nil && conversationID != "" {
		var err error
		history, err = b.history.RecentMessages(ctx, conversationID, userID, b.cfg.WindowSize)
		if err != nil {
			b.log.Warn("failed to load conversation history, continuing without it",
				slog.String("conversation_id", conversationID),
				slog.String("error", err.Error()))
			history = nil
		}
	}

	budget := b.cfg.MaxTokens
	reserved := EstimateTokens(systemPrompt) + EstimateTokens(currentMessage)
	historyBudget := budget - reserved
	if historyBudget < 0 {
		historyBudget = 0
	}

	selected := selectHistory(history, currentMessage, historyBudget, b.cfg)

	window := make([]llm.Message, 0, len(selected)+2)
	if systemPrompt != "" {
		window = append(window, llm.Message{Role: "system", Content: systemPrompt})
	}
	window = append(window, selected...)
	window = append(window, llm.Message{Role: "user", Content: currentMessage})
	return window
}

// selectHistory keeps the most recent turns that fit the budget, then adds
// keyword-matched older turns if enabled. history arrives newest first and
// the result is returned oldest first.
func selectHistory(history []llm.Message, currentMessage string, budget int, cfg Config) []llm.Message {
	if len(history) == 0 || budget == 0 {
		return nil
	}

	used := 0
	recentCount := 0
	for _, msg := range history {
		cost := EstimateTokens(msg.Content)
		if used+cost > budget {
			break
		}
		used += cost
		recentCount++
	}

	// indices into history: [0, recentCount) are the recent keepers
	keep := make(map[int]bool, recentCount)
	for i := 0; i < recentCount; i++ {
		keep[i] = true
	}

	if cfg.EnableKeywordMatch && cfg.KeywordMatchCount > 0 && recentCount < len(history) {
		keywords := extractKeywords(currentMessage)
		matched := 0
		for i := recentCount; i < len(history) && matched < cfg.KeywordMatchCount; i++ {
			if !matchesKeywords(history[i].Content, keywords) {
				continue
			}
			cost := EstimateTokens(history[i].Content)
			if used+cost > budget {
				break
			}
			used += cost
			keep[i] = true
			matched++
		}
	}

	indices := make([]int, 0, len(keep))
	for i := range keep {
		indices = append(indices, i)
	}
	// highest index = oldest turn; emit oldest first
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))

	result := make([]llm.Message, 0, len(indices))
	for _, i := range indices {
		result = append(result, history[i])
	}
	return result
}

// extractKeywords pulls the significant words out of the current message.
func extractKeywords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) < 4 || stopWords[f] {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}

// matchesKeywords reports whether content contains at least two of the
// keywords (one for short keyword lists).
func matchesKeywords(content string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	required := 2
	if len(keywords) < 3 {
		required = 1
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
			if hits >= required {
				return true
			}
		}
	}
	return false
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "would": true,
	"could": true, "should": true, "about": true, "there": true, "their": true,
	"then": true, "than": true, "them": true, "they": true, "your": true,
	"please": true, "want": true, "need": true, "like": true, "just": true,
}

// Describe returns a short summary of a built window for debug logging.
func Describe(window []llm.Message) string {
	total := 0
	for _, m := range window {
		total += EstimateTokens(m.Content)
	}
	return fmt.Sprintf("%d messages, ~%d tokens", len(window), total)
}
