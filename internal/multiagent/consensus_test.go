package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mindwell-ai/conductor/internal/logger"
)

func TestTokenOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, tokenOverlap("the plan works", "the plan works"), 1e-9)
	assert.InDelta(t, 0.0, tokenOverlap("alpha beta", "gamma delta"), 1e-9)
	// {a,b,c} vs {b,c,d}: 2 shared of 4 distinct
	assert.InDelta(t, 0.5, tokenOverlap("a b c", "b c d"), 1e-9)
	// Case and punctuation are normalized.
	assert.InDelta(t, 1.0, tokenOverlap("Adopt, plan A!", "adopt plan a"), 1e-9)
	assert.Equal(t, 0.0, tokenOverlap("", "anything"))
}

type stubEmbedder struct {
	configured bool
	vectors    map[string][]float32
	fail       bool
}

func (s *stubEmbedder) IsConfigured() bool { return s.configured }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	return s.vectors[text], nil
}

func TestSimilarityPrefersEmbeddings(t *testing.T) {
	embedder := &stubEmbedder{
		configured: true,
		vectors: map[string][]float32{
			"left":  {1, 0},
			"right": {1, 0},
		},
	}
	sim := newSimilarityFunc(embedder, logger.New(logger.Config{Level: slog.LevelError}))

	// Disjoint token sets would score 0; the embedding path scores 1.
	assert.InDelta(t, 1.0, sim(context.Background(), "left", "right"), 1e-9)
}

func TestSimilarityFallsBackOnEmbedderFailure(t *testing.T) {
	embedder := &stubEmbedder{configured: true, fail: true}
	sim := newSimilarityFunc(embedder, logger.New(logger.Config{Level: slog.LevelError}))

	assert.InDelta(t, 1.0, sim(context.Background(), "same words", "same words"), 1e-9)
}

func TestSimilarityUnconfiguredUsesTokenOverlap(t *testing.T) {
	sim := newSimilarityFunc(&stubEmbedder{configured: false}, logger.New(logger.Config{Level: slog.LevelError}))
	assert.InDelta(t, 0.5, sim(context.Background(), "a b c", "b c d"), 1e-9)
}
