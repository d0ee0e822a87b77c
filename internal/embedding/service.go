package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
)

// Service turns text into fixed-dimension vectors. Implementations must be
// safe for concurrent use.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	IsConfigured() bool
}

// HTTPService calls an OpenAI-compatible /embeddings endpoint.
type HTTPService struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewHTTPService creates an embedding client. An empty baseURL yields an
// unconfigured service; callers degrade to non-semantic behavior.
func NewHTTPService(baseURL, apiKey, model string, log *logger.Logger) *HTTPService {
	return &HTTPService{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.WithComponent("embedding"),
	}
}

// IsConfigured reports whether the service can produce embeddings.
func (s *HTTPService) IsConfigured() bool {
	return s.baseURL != ""
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for text.
func (s *HTTPService) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("embedding service not configured")
	}

	payload, err := json.Marshal(embeddingRequest{Model: s.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}

	return parsed.Data[0].Embedding, nil
}
