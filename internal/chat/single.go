package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/memory"
	"github.com/mindwell-ai/conductor/internal/progress"
	"github.com/mindwell-ai/conductor/internal/reqcache"
	"github.com/mindwell-ai/conductor/internal/sse"
	"github.com/mindwell-ai/conductor/internal/store"
	"github.com/mindwell-ai/conductor/internal/tools"
)

// MessageStore is the slice of the message repository the streaming loops
// need.
type MessageStore interface {
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (string, error)
	GetMessage(ctx context.Context, messageID, userID string) (*store.Message, error)
}

// defaultSystemPrompt frames single-agent replies.
const defaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely. " +
	"When a tool result is provided, ground your answer in it."

// Runner drives the single-agent streaming loop: one model, a bounded
// tool-call loop, partial persistence on every exit path.
type Runner struct {
	router   *llm.Router
	tools    *tools.Dispatcher
	registry *tools.Registry
	memory   *memory.Builder
	messages MessageStore
	cache    *reqcache.Cache
	progress *progress.Store
	stops    *StopController
	log      *logger.Logger

	heartbeat    time.Duration
	systemPrompt string
}

// NewRunner wires the single-agent loop. cache and progressStore may be nil;
// the corresponding features degrade silently.
func NewRunner(router *llm.Router, dispatcher *tools.Dispatcher, registry *tools.Registry, mem *memory.Builder, messages MessageStore, cache *reqcache.Cache, progressStore *progress.Store, stops *StopController, heartbeat time.Duration, log *logger.Logger) *Runner {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Runner{
		router:       router,
		tools:        dispatcher,
		registry:     registry,
		memory:       mem,
		messages:     messages,
		cache:        cache,
		progress:     progressStore,
		stops:        stops,
		log:          log.WithComponent("single-agent"),
		heartbeat:    heartbeat,
		systemPrompt: defaultSystemPrompt,
	}
}

// StreamParams identify one single-agent request.
type StreamParams struct {
	ConversationID           string
	UserID                   string
	Message                  string
	ModelType                string
	AssistantMessageID       string
	ClientAssistantMessageID string
	Mode                     string
	EmitInit                 bool
}

// Stream runs the request to completion over w. Errors never cross the SSE
// boundary; they become error events or partial persistence.
func (r *Runner) Stream(ctx context.Context, w *sse.Writer, p StreamParams) {
	if p.EmitInit {
		w.WriteEvent(sse.NewInitEvent(p.ConversationID, p.Mode))
	}
	w.Heartbeat(r.heartbeat)
	defer w.StopHeartbeat()

	acc := newAccumulator()
	persisted := false

	// Partial persistence runs on every exit path. Whatever accumulated
	// before a disconnect or failure becomes the assistant row.
	defer func() {
		if persisted || acc.Content() == "" {
			return
		}
		r.persist(ctx, p, acc, nil)
	}()

	window := r.memory.Build(ctx, p.ConversationID, p.UserID, p.Message, r.systemPrompt)
	backend := r.router.Backend(p.ModelType)
	defs := r.registry.GetDefinitions()

	msgs := window
	loop := r.tools.NewLoop()
	var sources []sse.Source

	for {
		handle, err := backend.Stream(ctx, llm.Request{
			Model:    backend.DefaultModel(),
			Messages: msgs,
			Tools:    defs,
		})
		if err != nil {
			r.log.Error("backend stream failed", slog.String("error", err.Error()))
			if acc.Content() == "" {
				w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: "model backend unavailable", Timestamp: sse.Now()})
				w.WriteDone()
				r.markError(ctx, p, "model backend unavailable")
				return
			}
			break
		}

		detector := tools.NewCallDetector()
		segStart := acc.RawLen()
		aborted, streamErr := r.consume(ctx, w, p, handle, detector, acc)
		if aborted {
			r.noteAborted(ctx, p, acc)
			return
		}
		if streamErr != nil {
			r.log.Warn("upstream stream error", slog.String("error", streamErr.Error()))
			if acc.Content() == "" {
				w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: "model stream interrupted", Timestamp: sse.Now()})
				w.WriteDone()
				r.markError(ctx, p, "model stream interrupted")
				return
			}
			break
		}

		segment := acc.RawSince(segStart)
		var native []tools.Call
		if detector.IsComplete() {
			native = detector.Calls()
		}
		call, found := r.tools.Detect(segment, native)
		if !found {
			break
		}
		if !loop.Next() {
			r.log.Info("tool loop budget exhausted", slog.Int("rounds", loop.Round()))
			break
		}

		w.WriteEvent(sse.ContentEvent{
			Content:  acc.Content(),
			Thinking: acc.Thinking(),
			ToolCall: map[string]string{"tool": call.Tool, "input": call.Input},
		})

		outcome := r.tools.Dispatch(ctx, call, loop.Round(), p.Message)
		if outcome.Record != nil && outcome.Record.Success && call.Tool == "search_web" {
			sources = append(sources, tools.SourcesFromOutput(outcome.Record.Output)...)
		}

		if r.clientGone(w, p) {
			r.noteAborted(ctx, p, acc)
			return
		}

		msgs = append(msgs,
			llm.Message{Role: "assistant", Content: segment},
			llm.Message{Role: "user", Content: outcome.ResultText},
		)
		if !outcome.ShouldContinue {
			break
		}
	}

	w.WriteEvent(sse.ContentEvent{Content: acc.Content(), Thinking: acc.Thinking(), Sources: sources})
	r.persist(ctx, p, acc, sources)
	persisted = true
	delivered := w.WriteDone()

	if r.progress != nil {
		if delivered {
			// The client consumed the full response; nothing left to resume.
			r.progress.Delete(context.WithoutCancel(ctx), p.AssistantMessageID)
		} else {
			// The client dropped during the final frames. Keep the entry,
			// final text and all, so a reconnect can replay it.
			r.saveProgress(ctx, p, acc, progress.StatusCompleted)
		}
	}
	r.saveCache(ctx, p, acc, sources)
}

// consume drains one upstream stream into the accumulator, emitting
// cumulative content events and polling for cancellation between chunks.
func (r *Runner) consume(ctx context.Context, w *sse.Writer, p StreamParams, handle llm.StreamHandle, detector *tools.CallDetector, acc *accumulator) (aborted bool, err error) {
	events := 0
	for {
		chunk, recvErr := handle.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				return false, nil
			}
			return false, recvErr
		}

		if r.clientGone(w, p) {
			handle.Cancel()
			return true, nil
		}

		if detector.ProcessChunk(chunk) {
			continue
		}
		if chunk.Thinking != "" {
			acc.AddThinking(chunk.Thinking)
		}
		if chunk.Content != "" {
			acc.AddRaw(chunk.Content)
		}

		if content, thinking, changed := acc.Snapshot(); changed {
			w.WriteEvent(sse.ContentEvent{Content: content, Thinking: thinking})
			events++
			if r.progress != nil && events%20 == 0 {
				r.saveProgress(ctx, p, acc, progress.StatusStreaming)
			}
		}
	}
}

// clientGone reports whether the stream should stop: client disconnect or
// an explicit stop request.
func (r *Runner) clientGone(w *sse.Writer, p StreamParams) bool {
	if w.IsClosed() {
		return true
	}
	return r.stops != nil && r.stops.IsStopped(p.ConversationID)
}

// noteAborted records progress for a mid-stream abort. The deferred partial
// persistence writes the message row.
func (r *Runner) noteAborted(ctx context.Context, p StreamParams, acc *accumulator) {
	r.log.Info("stream aborted by client",
		slog.String("conversation_id", p.ConversationID),
		slog.Int("accumulated", len(acc.Content())))
	r.saveProgress(ctx, p, acc, progress.StatusCompleted)
}

// markError flips the progress entry to error so a reconnecting resumer
// sees the failure instead of polling a dead stream.
func (r *Runner) markError(ctx context.Context, p StreamParams, msg string) {
	if r.progress == nil {
		return
	}
	r.progress.MarkError(context.WithoutCancel(ctx), p.AssistantMessageID, msg)
}

func (r *Runner) saveProgress(ctx context.Context, p StreamParams, acc *accumulator, status string) {
	if r.progress == nil {
		return
	}
	content := acc.Content()
	r.progress.Save(context.WithoutCancel(ctx), &progress.Entry{
		MessageID:        p.AssistantMessageID,
		UserID:           p.UserID,
		ConversationID:   p.ConversationID,
		AccumulatedText:  content,
		Thinking:         acc.Thinking(),
		ModelType:        p.ModelType,
		Status:           status,
		LastSentPosition: len(content),
	})
}

// persist writes the assistant row, idempotent on the client message id.
func (r *Runner) persist(ctx context.Context, p StreamParams, acc *accumulator, sources []sse.Source) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := r.messages.CreateMessage(persistCtx, store.CreateMessageParams{
		ConversationID:  p.ConversationID,
		UserID:          p.UserID,
		Role:            "assistant",
		Content:         acc.Content(),
		ClientMessageID: p.ClientAssistantMessageID,
		ModelType:       p.ModelType,
		Thinking:        acc.Thinking(),
		Sources:         sources,
	})
	if err != nil {
		r.log.Error("failed to persist assistant message",
			slog.String("conversation_id", p.ConversationID),
			slog.String("error", err.Error()))
	}
}

// saveCache stores the finished reply in the semantic request cache.
// Single-agent mode only; failures never affect the response.
func (r *Runner) saveCache(ctx context.Context, p StreamParams, acc *accumulator, sources []sse.Source) {
	if r.cache == nil || p.Mode != "single" || acc.Content() == "" {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := r.cache.Save(cacheCtx, reqcache.Entry{
		UserID:           p.UserID,
		RequestText:      p.Message,
		ResponseContent:  acc.Content(),
		ResponseThinking: acc.Thinking(),
		Sources:          sources,
		ModelType:        p.ModelType,
		Mode:             "single",
	})
	if err != nil {
		r.log.Debug("request cache save failed", slog.String("error", err.Error()))
	}
}

// accumulator gathers the raw upstream text and splits it into visible
// content and thinking. Explicit reasoning deltas and inline <think> blocks
// both land in the thinking channel.
type accumulator struct {
	raw          strings.Builder
	thinkingSide strings.Builder

	lastContent  string
	lastThinking string
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) AddRaw(s string)      { a.raw.WriteString(s) }
func (a *accumulator) AddThinking(s string) { a.thinkingSide.WriteString(s) }
func (a *accumulator) RawLen() int          { return a.raw.Len() }

// RawSince returns the raw content appended after offset.
func (a *accumulator) RawSince(offset int) string {
	s := a.raw.String()
	if offset >= len(s) {
		return ""
	}
	return s[offset:]
}

// Content returns the user-visible text accumulated so far.
func (a *accumulator) Content() string {
	_, content := splitThinking(a.raw.String())
	return content
}

// Thinking returns the accumulated chain-of-thought text.
func (a *accumulator) Thinking() string {
	inline, _ := splitThinking(a.raw.String())
	side := a.thinkingSide.String()
	switch {
	case inline == "":
		return side
	case side == "":
		return inline
	default:
		return side + inline
	}
}

// Snapshot returns the current content and thinking, and whether either
// changed since the last snapshot.
func (a *accumulator) Snapshot() (content, thinking string, changed bool) {
	content = a.Content()
	thinking = a.Thinking()
	changed = content != a.lastContent || thinking != a.lastThinking
	a.lastContent = content
	a.lastThinking = thinking
	return content, thinking, changed
}

// splitThinking separates a leading <think>...</think> block from the
// visible reply. An unclosed block means the model is still thinking; all
// text after the marker counts as thinking.
func splitThinking(raw string) (thinking, content string) {
	const openTag, closeTag = "<think>", "</think>"

	trimmed := strings.TrimLeft(raw, " \n")
	if !strings.HasPrefix(trimmed, openTag) {
		return "", raw
	}
	rest := trimmed[len(openTag):]
	if idx := strings.Index(rest, closeTag); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimLeft(rest[idx+len(closeTag):], " \n")
	}
	return strings.TrimSpace(rest), ""
}
