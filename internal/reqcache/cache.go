package reqcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindwell-ai/conductor/internal/embedding"
	"github.com/mindwell-ai/conductor/internal/kv"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/sse"
)

const (
	listKeyPrefix   = "embedding_cache:user:"
	detailKeyPrefix = "embedding_cache:detail:"
)

// Mode labels which pipeline produced a cached response.
const (
	ModeSingle     = "single"
	ModeMultiAgent = "multi_agent"
	ModeChunking   = "chunking"
)

// Entry is one cached request/response pair with its embedding.
type Entry struct {
	CacheID          string                 `json:"cacheId"`
	UserID           string                 `json:"userId"`
	RequestText      string                 `json:"requestText"`
	RequestEmbedding []float32              `json:"requestEmbedding"`
	ResponseContent  string                 `json:"responseContent"`
	ResponseThinking string                 `json:"responseThinking,omitempty"`
	Sources          []sse.Source           `json:"sources,omitempty"`
	ModelType        string                 `json:"modelType"`
	Mode             string                 `json:"mode"`
	HitCount         int                    `json:"hitCount"`
	LastHitAt        *time.Time             `json:"lastHitAt,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	ExpiresAt        time.Time              `json:"expiresAt"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Filter narrows FindByUser results.
type Filter struct {
	ModelType string
	Mode      string
}

// Cache is the embedding-based semantic request cache. Per user it keeps at
// most maxPerUser entries, evicting the oldest by createdAt on insert.
type Cache struct {
	rdb        kv.Store
	embedder   embedding.Service
	log        *logger.Logger
	ttl        time.Duration
	maxPerUser int
	threshold  float64
}

// New creates a request cache.
func New(rdb kv.Store, embedder embedding.Service, ttl time.Duration, maxPerUser int, threshold float64, log *logger.Logger) *Cache {
	return &Cache{
		rdb:        rdb,
		embedder:   embedder,
		log:        log.WithComponent("request-cache"),
		ttl:        ttl,
		maxPerUser: maxPerUser,
		threshold:  threshold,
	}
}

// Save writes an entry and enforces the per-user LRU cap.
// The entry's embedding is computed here when absent.
func (c *Cache) Save(ctx context.Context, entry Entry) error {
	if entry.CacheID == "" {
		entry.CacheID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.ExpiresAt = entry.CreatedAt.Add(c.ttl)

	if len(entry.RequestEmbedding) == 0 {
		if !c.embedder.IsConfigured() {
			return fmt.Errorf("embedding service not configured")
		}
		vec, err := c.embedder.Embed(ctx, entry.RequestText)
		if err != nil {
			return fmt.Errorf("failed to embed request text: %w", err)
		}
		entry.RequestEmbedding = vec
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	listKey := listKeyPrefix + entry.UserID + ":list"

	if err := c.rdb.Set(ctx, detailKeyPrefix+entry.CacheID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache detail: %w", err)
	}
	if err := c.rdb.ZAdd(ctx, listKey, redis.Z{
		Score:  float64(entry.CreatedAt.UnixMilli()),
		Member: entry.CacheID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index cache entry: %w", err)
	}
	if err := c.rdb.Expire(ctx, listKey, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh cache list TTL: %w", err)
	}

	return c.evictOverflow(ctx, entry.UserID)
}

// evictOverflow removes the lowest-scored (oldest) entries beyond the cap.
func (c *Cache) evictOverflow(ctx context.Context, userID string) error {
	listKey := listKeyPrefix + userID + ":list"

	count, err := c.rdb.ZCard(ctx, listKey).Result()
	if err != nil {
		return fmt.Errorf("failed to count cache entries: %w", err)
	}
	if count <= int64(c.maxPerUser) {
		return nil
	}

	excess := count - int64(c.maxPerUser)
	oldest, err := c.rdb.ZRangeWithScores(ctx, listKey, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("failed to list oldest cache entries: %w", err)
	}

	for _, z := range oldest {
		cacheID, ok := z.Member.(string)
		if !ok {
			continue
		}
		if err := c.rdb.Del(ctx, detailKeyPrefix+cacheID).Err(); err != nil {
			c.log.Warn("failed to delete evicted cache detail",
				slog.String("cache_id", cacheID),
				slog.String("error", err.Error()))
		}
		_ = c.rdb.ZRem(ctx, listKey, cacheID).Err()
	}

	c.log.Debug("evicted cache overflow",
		slog.String("user_id", userID),
		slog.Int64("evicted", excess))
	return nil
}

// FindByUser loads the user's entries newest first, applying filter.
func (c *Cache) FindByUser(ctx context.Context, userID string, filter Filter) ([]*Entry, error) {
	listKey := listKeyPrefix + userID + ":list"

	ids, err := c.rdb.ZRevRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		raw, err := c.rdb.Get(ctx, detailKeyPrefix+id).Result()
		if err != nil {
			continue // expired detail; stale index entry
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if filter.ModelType != "" && entry.ModelType != filter.ModelType {
			continue
		}
		if filter.Mode != "" && entry.Mode != filter.Mode {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// FindSimilar embeds queryText and returns the user's best-matching entry
// when its cosine similarity meets the threshold. Ties break by hit count,
// then recency. Returns (nil, nil) on miss or when embeddings are
// unavailable: the caller falls through to a live model call.
func (c *Cache) FindSimilar(ctx context.Context, userID, queryText string, filter Filter) (*Entry, error) {
	if !c.embedder.IsConfigured() {
		return nil, nil
	}

	queryVec, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		c.log.Warn("cache probe embedding failed, skipping cache",
			slog.String("error", err.Error()))
		return nil, nil
	}

	candidates, err := c.FindByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	var best *Entry
	bestSim := 0.0
	for _, candidate := range candidates {
		sim := embedding.Cosine(queryVec, candidate.RequestEmbedding)
		if sim < c.threshold {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && candidate.HitCount > best.HitCount) ||
			(sim == bestSim && candidate.HitCount == best.HitCount && candidate.CreatedAt.After(best.CreatedAt)) {
			best = candidate
			bestSim = sim
		}
	}

	if best != nil {
		c.log.Info("semantic cache hit",
			slog.String("user_id", userID),
			slog.String("cache_id", best.CacheID),
			slog.Float64("similarity", bestSim))
	}
	return best, nil
}

// IncrementHit bumps the entry's hit count, preserving its remaining TTL.
func (c *Cache) IncrementHit(ctx context.Context, cacheID string) error {
	detailKey := detailKeyPrefix + cacheID

	raw, err := c.rdb.Get(ctx, detailKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil // expired between hit and increment; nothing to do
		}
		return fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("corrupt cache entry: %w", err)
	}

	now := time.Now()
	entry.HitCount++
	entry.LastHitAt = &now

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	remaining, err := c.rdb.TTL(ctx, detailKey).Result()
	if err != nil || remaining <= 0 {
		remaining = c.ttl
	}
	return c.rdb.Set(ctx, detailKey, payload, remaining).Err()
}
