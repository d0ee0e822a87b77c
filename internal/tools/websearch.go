package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/sse"
)

// WebSearchTool queries an external search API and formats results for
// model consumption. Results also feed the reply's source citations.
type WebSearchTool struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// NewWebSearchTool creates the search tool. An empty apiKey produces a tool
// that reports itself unconfigured at execution time.
func NewWebSearchTool(apiURL, apiKey string, log *logger.Logger) *WebSearchTool {
	return &WebSearchTool{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        log.WithComponent("search-web-tool"),
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "search_web"
}

// Definition returns the OpenAI-compatible function definition.
func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "search_web",
			Description: "Search the web for current information",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query",
					},
					"numResults": map[string]interface{}{
						"type":        "integer",
						"description": "Number of results to return (default: 5)",
						"default":     5,
					},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
}

type searchResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Execute runs the web search with the given arguments.
func (t *WebSearchTool) Execute(ctx context.Context, args string) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("search API not configured")
	}

	var parsed searchArgs
	if err := ParseArguments(args, &parsed); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	parsed.Query = strings.TrimSpace(parsed.Query)
	if parsed.Query == "" {
		return "", fmt.Errorf("query parameter is required")
	}
	if parsed.NumResults <= 0 || parsed.NumResults > 10 {
		parsed.NumResults = 5
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":      parsed.Query,
		"numResults": parsed.NumResults,
		"contents":   map[string]interface{}{"text": true},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(result.Results) == 0 {
		return "No search results found.", nil
	}

	var b strings.Builder
	for i, r := range result.Results {
		snippet := r.Text
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, snippet)
	}
	return b.String(), nil
}

// SourcesFromOutput parses the formatted search output back into source
// citations for the final SSE event.
func SourcesFromOutput(output string) []sse.Source {
	var sources []sse.Source
	lines := strings.Split(output, "\n")
	for i := 0; i < len(lines)-1; i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		title := strings.TrimSpace(line[end+1:])
		url := strings.TrimSpace(lines[i+1])
		if title == "" || !strings.HasPrefix(url, "http") {
			continue
		}
		sources = append(sources, sse.Source{Title: title, URL: url})
	}
	return sources
}
