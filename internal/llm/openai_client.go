package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
)

const (
	// upstreamReadTimeout bounds one completion stream end to end.
	// Prevents hanging forever if a provider stops responding mid-stream.
	upstreamReadTimeout = 10 * time.Minute

	maxLineSize = 1024 * 1024
)

// OpenAIClient streams from any OpenAI-compatible /chat/completions
// endpoint. Both the local and the volcano backends use this client with
// different base URLs.
type OpenAIClient struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
	log          *logger.Logger
}

// NewOpenAIClient creates a backend for an OpenAI-compatible provider.
func NewOpenAIClient(name, baseURL, apiKey, defaultModel string, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		name:         name,
		baseURL:      baseURL,
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: upstreamReadTimeout},
		log:          log.WithComponent("llm-" + name),
	}
}

// Name returns the backend's model-type identifier.
func (c *OpenAIClient) Name() string { return c.name }

// DefaultModel returns the configured default model id.
func (c *OpenAIClient) DefaultModel() string { return c.defaultModel }

// Stream starts a streaming completion against the provider.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (StreamHandle, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("backend %s not configured", c.name)
	}
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	// The stream gets its own cancellable context so Cancel() can abort
	// the upstream read independently of the caller's context.
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), upstreamReadTimeout)

	url := strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("backend %s returned status %d: %s", c.name, resp.StatusCode, string(errBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	return &sseStream{
		body:    resp.Body,
		scanner: scanner,
		cancel:  cancel,
	}, nil
}

// sseStream decodes "data:" lines from an OpenAI-compatible SSE body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

// chunkEnvelope is the provider's per-chunk JSON shape.
type chunkEnvelope struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Recv returns the next decoded chunk, io.EOF on [DONE] or stream end.
func (s *sseStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.close()
			return Chunk{}, io.EOF
		}

		var envelope chunkEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			// Malformed interstitial chunk; skip rather than kill the stream.
			continue
		}
		if len(envelope.Choices) == 0 {
			continue
		}

		choice := envelope.Choices[0]
		chunk := Chunk{
			Content:      choice.Delta.Content,
			Thinking:     choice.Delta.ReasoningContent,
			FinishReason: choice.FinishReason,
		}
		for _, tc := range choice.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.close()
		return Chunk{}, fmt.Errorf("upstream read failed: %w", err)
	}
	s.close()
	return Chunk{}, io.EOF
}

// Cancel aborts the upstream request.
func (s *sseStream) Cancel() {
	s.cancel()
	_ = s.body.Close()
}

func (s *sseStream) close() {
	s.done = true
	s.cancel()
	_ = s.body.Close()
}
