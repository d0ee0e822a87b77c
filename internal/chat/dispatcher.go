package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mindwell-ai/conductor/internal/admission"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/metrics"
	"github.com/mindwell-ai/conductor/internal/multiagent"
	"github.com/mindwell-ai/conductor/internal/reqcache"
	"github.com/mindwell-ai/conductor/internal/sse"
	"github.com/mindwell-ai/conductor/internal/store"
	"github.com/mindwell-ai/conductor/internal/upload"
)

// Modes routed by the dispatcher.
const (
	ModeSingle     = "single"
	ModeMultiAgent = "multi_agent"
	ModeChunking   = "chunking"
)

// cacheReplayChunk and cacheReplayDelay pace cache-hit replays so the
// client UX matches a live stream.
const (
	cacheReplayChunk = 40
	cacheReplayDelay = 20 * time.Millisecond
)

// ConversationStore is the repository surface the dispatcher needs.
type ConversationStore interface {
	MessageStore
	EnsureConversation(ctx context.Context, conversationID, userID, firstMessage string) (*store.Conversation, error)
}

// Dispatcher is the top-level chat entry point: it validates, admits,
// persists the user turn, probes the cache and routes to the right
// streaming pipeline.
type Dispatcher struct {
	admission *admission.Controller
	store     ConversationStore
	cache     *reqcache.Cache
	single    *Runner
	chunker   *Chunker
	resumer   *Resumer
	multi     *multiagent.Orchestrator
	uploads   *upload.Manager
	stops     *StopController
	metrics   *metrics.Metrics
	log       *logger.Logger

	heartbeat time.Duration
}

// NewDispatcher wires the chat pipeline.
func NewDispatcher(adm *admission.Controller, repo ConversationStore, cache *reqcache.Cache, single *Runner, chunker *Chunker, resumer *Resumer, multi *multiagent.Orchestrator, uploads *upload.Manager, stops *StopController, m *metrics.Metrics, heartbeat time.Duration, log *logger.Logger) *Dispatcher {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Dispatcher{
		admission: adm,
		store:     repo,
		cache:     cache,
		single:    single,
		chunker:   chunker,
		resumer:   resumer,
		multi:     multi,
		uploads:   uploads,
		stops:     stops,
		metrics:   m,
		log:       log.WithComponent("chat-dispatcher"),
		heartbeat: heartbeat,
	}
}

// route picks the streaming pipeline and runs it to completion. The caller
// has already admitted the request, ensured the conversation and persisted
// the user message; w is live.
func (d *Dispatcher) route(ctx context.Context, w *sse.Writer, req *Request) {
	mode := req.Mode
	if mode == "" {
		mode = ModeSingle
	}
	if mode == ModeSingle && NeedsChunking(req.Message) {
		mode = ModeChunking
	}
	d.metrics.StreamsTotal.WithLabelValues(mode).Inc()
	d.stops.Clear(req.ConversationID)

	assistantMessageID := req.ClientAssistantMessageID
	if assistantMessageID == "" {
		assistantMessageID = uuid.New().String()
	}

	switch mode {
	case ModeMultiAgent:
		w.WriteEvent(sse.NewInitEvent(req.ConversationID, ModeMultiAgent))
		w.Heartbeat(d.heartbeat)
		defer w.StopHeartbeat()
		d.multi.Run(ctx, w, multiagent.RunParams{
			ConversationID:           req.ConversationID,
			AssistantMessageID:       assistantMessageID,
			ClientAssistantMessageID: req.ClientAssistantMessageID,
			UserID:                   req.UserID,
			UserQuery:                req.Message,
			ModelType:                req.ModelType,
			ResumeFromRound:          req.ResumeFromRound,
		})
		w.WriteDone()

	case ModeChunking:
		d.chunker.Stream(ctx, w, StreamParams{
			ConversationID:           req.ConversationID,
			UserID:                   req.UserID,
			Message:                  req.Message,
			ModelType:                req.ModelType,
			AssistantMessageID:       assistantMessageID,
			ClientAssistantMessageID: req.ClientAssistantMessageID,
			Mode:                     ModeChunking,
			EmitInit:                 true,
		})

	default:
		d.single.Stream(ctx, w, StreamParams{
			ConversationID:           req.ConversationID,
			UserID:                   req.UserID,
			Message:                  req.Message,
			ModelType:                req.ModelType,
			AssistantMessageID:       assistantMessageID,
			ClientAssistantMessageID: req.ClientAssistantMessageID,
			Mode:                     ModeSingle,
			EmitInit:                 true,
		})
	}
}

// probeCache looks for a semantically equivalent earlier request. Only
// single-agent requests are cached; all failures mean miss.
func (d *Dispatcher) probeCache(ctx context.Context, req *Request) *reqcache.Entry {
	if d.cache == nil {
		return nil
	}
	mode := req.Mode
	if mode != "" && mode != ModeSingle {
		return nil
	}
	if NeedsChunking(req.Message) {
		return nil
	}

	entry, err := d.cache.FindSimilar(ctx, req.UserID, req.Message, reqcache.Filter{
		ModelType: req.ModelType,
		Mode:      ModeSingle,
	})
	if err != nil {
		d.log.Debug("cache probe failed", slog.String("error", err.Error()))
		return nil
	}
	return entry
}

// replayCached streams a cache hit as a full SSE stream in small windows
// so the client cannot tell it from a live generation.
func (d *Dispatcher) replayCached(ctx context.Context, w *sse.Writer, req *Request, entry *reqcache.Entry) {
	d.metrics.CacheHits.WithLabelValues("hit").Inc()
	w.WriteEvent(sse.NewInitEvent(req.ConversationID, ModeSingle))

	content := entry.ResponseContent
	for end := cacheReplayChunk; ; end += cacheReplayChunk {
		if end >= len(content) {
			break
		}
		if !w.WriteEvent(sse.ContentEvent{Content: content[:end], Thinking: entry.ResponseThinking}) {
			return
		}
		time.Sleep(cacheReplayDelay)
	}
	w.WriteEvent(sse.ContentEvent{
		Content:  content,
		Thinking: entry.ResponseThinking,
		Sources:  entry.Sources,
	})
	w.WriteDone()

	// Bump the hit count off the request path.
	go func() {
		hitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := d.cache.IncrementHit(hitCtx, entry.CacheID); err != nil {
			d.log.Debug("hit count update failed", slog.String("error", err.Error()))
		}
	}()

	// A cache hit still persists one assistant row for the conversation.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := d.store.CreateMessage(persistCtx, store.CreateMessageParams{
		ConversationID:  req.ConversationID,
		UserID:          req.UserID,
		Role:            "assistant",
		Content:         entry.ResponseContent,
		ClientMessageID: req.ClientAssistantMessageID,
		ModelType:       req.ModelType,
		Thinking:        entry.ResponseThinking,
		Sources:         entry.Sources,
	})
	if err != nil {
		d.log.Error("failed to persist cached reply", slog.String("error", err.Error()))
	}
}

// persistUserMessage writes the user's turn, idempotent on its client id.
func (d *Dispatcher) persistUserMessage(ctx context.Context, req *Request) {
	_, err := d.store.CreateMessage(ctx, store.CreateMessageParams{
		ConversationID:  req.ConversationID,
		UserID:          req.UserID,
		Role:            "user",
		Content:         req.Message,
		ClientMessageID: req.ClientUserMessageID,
	})
	if err != nil {
		d.log.Error("failed to persist user message",
			slog.String("conversation_id", req.ConversationID),
			slog.String("error", err.Error()))
	}
}
