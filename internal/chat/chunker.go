package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/sse"
	"github.com/mindwell-ai/conductor/internal/store"
)

// Chunking trigger thresholds and target window size.
const (
	chunkCharThreshold = 12000
	chunkLineThreshold = 1000
	chunkWindowSize    = 5000
)

// NeedsChunking reports whether a message is too large for a single pass.
func NeedsChunking(text string) bool {
	if len(text) > chunkCharThreshold {
		return true
	}
	return strings.Count(text, "\n")+1 > chunkLineThreshold
}

// SplitIntoWindows splits text into windows of roughly windowSize
// characters, breaking on paragraph boundaries. A single paragraph larger
// than the window is hard-split.
func SplitIntoWindows(text string, windowSize int) []string {
	if windowSize <= 0 {
		windowSize = chunkWindowSize
	}

	paragraphs := strings.Split(text, "\n\n")
	var (
		windows []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			windows = append(windows, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > windowSize {
			flush()
			for len(para) > windowSize {
				windows = append(windows, para[:windowSize])
				para = para[windowSize:]
			}
			if para != "" {
				current.WriteString(para)
			}
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > windowSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return windows
}

// chunkAnalyzerRole labels per-window analysis events on the wire.
const chunkAnalyzerRole = "chunk_analyzer"

// Chunker streams oversize inputs window by window, then synthesizes the
// chunk analyses into one reply.
type Chunker struct {
	router   *llm.Router
	messages MessageStore
	stops    *StopController
	log      *logger.Logger

	heartbeat time.Duration
}

// NewChunker wires the long-text pipeline.
func NewChunker(router *llm.Router, messages MessageStore, stops *StopController, heartbeat time.Duration, log *logger.Logger) *Chunker {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Chunker{
		router:    router,
		messages:  messages,
		stops:     stops,
		log:       log.WithComponent("chunker"),
		heartbeat: heartbeat,
	}
}

// Stream runs the chunked analysis over w.
func (c *Chunker) Stream(ctx context.Context, w *sse.Writer, p StreamParams) {
	if p.EmitInit {
		w.WriteEvent(sse.NewInitEvent(p.ConversationID, "chunking"))
	}
	w.Heartbeat(c.heartbeat)
	defer w.StopHeartbeat()

	var final strings.Builder
	persisted := false
	defer func() {
		if persisted || final.Len() == 0 {
			return
		}
		c.persist(ctx, p, final.String())
	}()

	windows := SplitIntoWindows(p.Message, chunkWindowSize)
	c.log.Info("chunking long input",
		slog.Int("chars", len(p.Message)),
		slog.Int("windows", len(windows)))

	backend := c.router.Backend(p.ModelType)
	analyses := make([]string, 0, len(windows))

	for i, window := range windows {
		if c.aborted(w, p) {
			return
		}
		round := i + 1
		w.WriteEvent(sse.AgentStartEvent{Type: sse.TypeAgentStart, Agent: chunkAnalyzerRole, Round: round, Timestamp: sse.Now()})

		prompt := fmt.Sprintf("Analyze section %d of %d of a long document. Summarize its key points, facts and open questions.\n\n%s",
			round, len(windows), window)
		analysis, aborted, err := c.generate(ctx, w, backend, prompt, chunkAnalyzerRole, round)
		if aborted {
			return
		}
		if err != nil {
			c.log.Warn("chunk analysis failed",
				slog.Int("window", round),
				slog.String("error", err.Error()))
			analysis = fmt.Sprintf("(section %d analysis unavailable)", round)
		}
		analyses = append(analyses, analysis)

		w.WriteEvent(sse.AgentCompleteEvent{
			Type: sse.TypeAgentComplete, Agent: chunkAnalyzerRole, Round: round,
			FullContent: analysis, Timestamp: sse.Now(),
		})
	}

	if c.aborted(w, p) {
		return
	}

	var synthesis strings.Builder
	synthesis.WriteString("Combine the following section analyses of one long document into a single coherent answer for the user.\n")
	for i, a := range analyses {
		fmt.Fprintf(&synthesis, "\nSection %d analysis:\n%s\n", i+1, a)
	}

	handle, err := backend.Stream(ctx, llm.Request{
		Model:    backend.DefaultModel(),
		Messages: []llm.Message{{Role: "user", Content: synthesis.String()}},
	})
	if err != nil {
		w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: "synthesis failed", Timestamp: sse.Now()})
		w.WriteDone()
		return
	}
	defer handle.Cancel()

	for {
		chunk, err := handle.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			c.log.Warn("synthesis stream error", slog.String("error", err.Error()))
			break
		}
		if c.aborted(w, p) {
			handle.Cancel()
			return
		}
		if chunk.Content == "" {
			continue
		}
		final.WriteString(chunk.Content)
		w.WriteEvent(sse.ContentEvent{Content: final.String()})
	}

	w.WriteEvent(sse.ContentEvent{Content: final.String()})
	c.persist(ctx, p, final.String())
	persisted = true
	w.WriteDone()
}

// generate streams one per-window analysis as agent_chunk events.
func (c *Chunker) generate(ctx context.Context, w *sse.Writer, backend llm.Backend, prompt, role string, round int) (string, bool, error) {
	handle, err := backend.Stream(ctx, llm.Request{
		Model:    backend.DefaultModel(),
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", false, err
	}
	defer handle.Cancel()

	var b strings.Builder
	for {
		chunk, err := handle.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), false, nil
			}
			return b.String(), false, err
		}
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		ok := w.WriteEvent(sse.AgentChunkEvent{
			Type: sse.TypeAgentChunk, Agent: role, Round: round,
			Chunk: chunk.Content, Timestamp: sse.Now(),
		})
		if !ok {
			handle.Cancel()
			return b.String(), true, nil
		}
	}
}

func (c *Chunker) aborted(w *sse.Writer, p StreamParams) bool {
	if w.IsClosed() {
		return true
	}
	return c.stops != nil && c.stops.IsStopped(p.ConversationID)
}

func (c *Chunker) persist(ctx context.Context, p StreamParams, content string) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := c.messages.CreateMessage(persistCtx, store.CreateMessageParams{
		ConversationID:  p.ConversationID,
		UserID:          p.UserID,
		Role:            "assistant",
		Content:         content,
		ClientMessageID: p.ClientAssistantMessageID,
		ModelType:       p.ModelType,
	})
	if err != nil {
		c.log.Error("failed to persist chunked reply", slog.String("error", err.Error()))
	}
}
