package session

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindwell-ai/conductor/internal/kv"
	"github.com/mindwell-ai/conductor/internal/logger"
)

const (
	keyPrefix     = "multi_agent:"
	userKeyPrefix = "multi_agent_user:"

	stateVersion = 1

	// asyncQueueSize bounds the fire-and-forget save queue. When full,
	// saves are dropped and counted rather than spawning goroutines.
	asyncQueueSize = 64

	opTimeout = 3 * time.Second
)

// ErrNotFound is returned when no checkpoint exists for the session.
var ErrNotFound = errors.New("session not found")

// ErrStaleRound is returned when a save would move completedRounds backwards.
var ErrStaleRound = errors.New("stale round: completedRounds may not decrease")

// State is the checkpointed snapshot of a multi-agent run.
type State struct {
	ConversationID     string          `json:"conversationId"`
	AssistantMessageID string          `json:"assistantMessageId"`
	UserID             string          `json:"userId"`
	CompletedRounds    int             `json:"completedRounds"`
	MaxRounds          int             `json:"maxRounds,omitempty"`
	SessionState       json.RawMessage `json:"sessionState"`
	UserQuery          string          `json:"userQuery"`
	Timestamp          int64           `json:"timestamp"`
	Version            int             `json:"version"`
}

// meta is the small uncompressed sidecar describing the main record.
type meta struct {
	Compressed bool `json:"compressed"`
	Rounds     int  `json:"rounds"`
}

// SaveOptions tune one Save call.
type SaveOptions struct {
	MaxRounds int
	Async     bool
}

// Store checkpoints multi-agent sessions in Redis with a sliding dynamic
// TTL. Durability is best-effort: the session is restartable, so store
// trouble logs and degrades instead of failing the request.
type Store struct {
	rdb kv.Store
	log *logger.Logger

	baseTTL     time.Duration
	perRoundTTL time.Duration

	saveQueue chan saveJob
	saved     func() // invoked after each successful checkpoint write; may be nil
	dropped   func() // invoked when an async save is dropped; may be nil
	stop      chan struct{}
}

type saveJob struct {
	state State
	ttl   time.Duration
}

// NewStore creates a session store and starts its checkpoint worker.
// The worker is deliberately decoupled from any request lifetime: a
// checkpoint written after the client hung up is the resume contract.
func NewStore(rdb kv.Store, baseTTL, perRoundTTL time.Duration, log *logger.Logger) *Store {
	s := &Store{
		rdb:         rdb,
		log:         log.WithComponent("session-store"),
		baseTTL:     baseTTL,
		perRoundTTL: perRoundTTL,
		saveQueue:   make(chan saveJob, asyncQueueSize),
		stop:        make(chan struct{}),
	}
	go s.saveWorker()
	return s
}

// SetDroppedCallback registers a counter hook for dropped async saves.
func (s *Store) SetDroppedCallback(fn func()) {
	s.dropped = fn
}

// SetSavedCallback registers a counter hook for checkpoint writes.
func (s *Store) SetSavedCallback(fn func()) {
	s.saved = fn
}

// Close stops the checkpoint worker after draining queued saves.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) saveWorker() {
	for {
		select {
		case job := <-s.saveQueue:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := s.write(ctx, job.state, job.ttl); err != nil {
				s.log.Warn("async checkpoint write failed",
					slog.String("conversation_id", job.state.ConversationID),
					slog.Int("rounds", job.state.CompletedRounds),
					slog.String("error", err.Error()))
			}
			cancel()
		case <-s.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case job := <-s.saveQueue:
					ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
					_ = s.write(ctx, job.state, job.ttl)
					cancel()
				default:
					return
				}
			}
		}
	}
}

// DynamicTTL computes base + (maxRounds - completedRounds) x perRound.
// Sessions with more work left get more time to be resumed.
func (s *Store) DynamicTTL(maxRounds, completedRounds int) time.Duration {
	remaining := maxRounds - completedRounds
	if remaining < 0 {
		remaining = 0
	}
	return s.baseTTL + time.Duration(remaining)*s.perRoundTTL
}

// Save checkpoints state for (conversationID, assistantMessageID).
//
// completedRounds is monotonic: a save with a lower round than the stored
// checkpoint fails with ErrStaleRound. With opts.Async the write is
// enqueued to the checkpoint worker and Save returns immediately; a full
// queue drops the save (the next round's checkpoint supersedes it anyway).
func (s *Store) Save(ctx context.Context, state State, opts SaveOptions) error {
	if opts.MaxRounds > 0 {
		state.MaxRounds = opts.MaxRounds
	}
	state.Timestamp = time.Now().Unix()
	state.Version = stateVersion

	existing, err := s.Load(ctx, state.ConversationID, state.AssistantMessageID, false)
	if err == nil && existing.CompletedRounds > state.CompletedRounds {
		return fmt.Errorf("%w: have %d, got %d", ErrStaleRound, existing.CompletedRounds, state.CompletedRounds)
	}

	ttl := s.DynamicTTL(state.MaxRounds, state.CompletedRounds)

	if opts.Async {
		select {
		case s.saveQueue <- saveJob{state: state, ttl: ttl}:
		default:
			s.log.Warn("checkpoint queue full, dropping save",
				slog.String("conversation_id", state.ConversationID),
				slog.Int("rounds", state.CompletedRounds))
			if s.dropped != nil {
				s.dropped()
			}
		}
		return nil
	}

	return s.write(ctx, state, ttl)
}

// write performs the actual SETEX main + meta + ZADD index + EXPIRE index.
func (s *Store) write(ctx context.Context, state State, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("failed to compress session state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}

	metaPayload, err := json.Marshal(meta{Compressed: true, Rounds: state.CompletedRounds})
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}

	mainKey := s.mainKey(state.ConversationID, state.AssistantMessageID)
	userKey := userKeyPrefix + state.UserID
	member := state.ConversationID + ":" + state.AssistantMessageID

	if err := s.rdb.Set(ctx, mainKey, buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := s.rdb.Set(ctx, mainKey+":meta", metaPayload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session meta: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, userKey, redis.Z{Score: float64(state.Timestamp), Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to index session for user: %w", err)
	}
	if err := s.rdb.Expire(ctx, userKey, ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh user index TTL: %w", err)
	}

	if s.saved != nil {
		s.saved()
	}
	s.log.Debug("checkpoint saved",
		slog.String("conversation_id", state.ConversationID),
		slog.String("message_id", state.AssistantMessageID),
		slog.Int("rounds", state.CompletedRounds),
		slog.Duration("ttl", ttl))

	return nil
}

// Load reads the checkpoint for (conversationID, assistantMessageID).
// With renewTTL both keys get a freshly computed dynamic TTL.
func (s *Store) Load(ctx context.Context, conversationID, assistantMessageID string, renewTTL bool) (*State, error) {
	mainKey := s.mainKey(conversationID, assistantMessageID)

	metaRaw, err := s.rdb.Get(ctx, mainKey+":meta").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session meta: %w", err)
	}

	var m meta
	if err := json.Unmarshal([]byte(metaRaw), &m); err != nil {
		return nil, fmt.Errorf("corrupt session meta: %w", err)
	}

	raw, err := s.rdb.Get(ctx, mainKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	payload := raw
	if m.Compressed {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed session state: %w", err)
		}
		payload, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress session state: %w", err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("failed to close decompressor: %w", err)
		}
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("corrupt session state: %w", err)
	}

	if renewTTL {
		ttl := s.DynamicTTL(state.MaxRounds, state.CompletedRounds)
		if err := s.rdb.Expire(ctx, mainKey, ttl).Err(); err != nil {
			s.log.Warn("failed to renew session TTL", slog.String("error", err.Error()))
		}
		_ = s.rdb.Expire(ctx, mainKey+":meta", ttl).Err()
	}

	return &state, nil
}

// Delete removes the checkpoint and its user-index entry.
func (s *Store) Delete(ctx context.Context, conversationID, assistantMessageID, userID string) error {
	mainKey := s.mainKey(conversationID, assistantMessageID)
	member := conversationID + ":" + assistantMessageID

	if err := s.rdb.Del(ctx, mainKey, mainKey+":meta").Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	if err := s.rdb.ZRem(ctx, userKeyPrefix+userID, member).Err(); err != nil {
		return fmt.Errorf("failed to remove session from user index: %w", err)
	}
	return nil
}

// FindUnfinished lists the user's resumable sessions, newest first.
// Index entries whose checkpoint has already expired are skipped.
func (s *Store) FindUnfinished(ctx context.Context, userID string) ([]*State, error) {
	members, err := s.rdb.ZRevRange(ctx, userKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	var unfinished []*State
	for _, member := range members {
		conversationID, messageID, ok := splitMember(member)
		if !ok {
			continue
		}
		state, err := s.Load(ctx, conversationID, messageID, false)
		if err != nil {
			continue // expired or corrupt; the index entry is stale
		}
		if state.MaxRounds == 0 || state.CompletedRounds < state.MaxRounds {
			unfinished = append(unfinished, state)
		}
	}
	return unfinished, nil
}

func (s *Store) mainKey(conversationID, assistantMessageID string) string {
	return keyPrefix + conversationID + ":" + assistantMessageID
}

// splitMember parses "conversationId:assistantMessageId". Conversation ids
// never contain ':' so the last separator wins.
func splitMember(member string) (string, string, bool) {
	idx := strings.LastIndex(member, ":")
	if idx <= 0 || idx == len(member)-1 {
		return "", "", false
	}
	return member[:idx], member[idx+1:], true
}
