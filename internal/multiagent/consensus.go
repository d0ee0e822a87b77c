package multiagent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mindwell-ai/conductor/internal/embedding"
	"github.com/mindwell-ai/conductor/internal/logger"
)

// similarity computes the consensus level between two position texts in
// [0, 1]. Embedding cosine is preferred; when the embedding service is
// unconfigured or failing the token-overlap fallback keeps the discussion
// going with a coarser signal.
type similarityFunc func(ctx context.Context, a, b string) float64

func newSimilarityFunc(embedder embedding.Service, log *logger.Logger) similarityFunc {
	return func(ctx context.Context, a, b string) float64 {
		if embedder != nil && embedder.IsConfigured() {
			va, errA := embedder.Embed(ctx, a)
			vb, errB := embedder.Embed(ctx, b)
			if errA == nil && errB == nil {
				return embedding.Cosine(va, vb)
			}
			err := errA
			if err == nil {
				err = errB
			}
			log.Debug("embedding similarity unavailable, using token overlap",
				slog.String("error", err.Error()))
		}
		return tokenOverlap(a, b)
	}
}

// tokenOverlap is the Jaccard similarity over lowercased word sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			set[f] = true
		}
	}
	return set
}
