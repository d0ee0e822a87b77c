package multiagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mindwell-ai/conductor/internal/config"
	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
)

// StreamSink receives one streamed delta of an agent's output. Returning
// false tells the agent the client is gone; generation is cancelled and the
// accumulated text returned.
type StreamSink func(chunk string) bool

// Agent is one LLM-backed discussion participant.
type Agent struct {
	role    string
	persona config.AgentPersona
	router  *llm.Router
	log     *logger.Logger
}

// NewAgent binds a role to its persona and model router.
func NewAgent(role string, persona config.AgentPersona, router *llm.Router, log *logger.Logger) *Agent {
	return &Agent{
		role:    role,
		persona: persona,
		router:  router,
		log:     log.WithComponent("agent-" + role),
	}
}

// Role returns the agent's role name.
func (a *Agent) Role() string { return a.role }

// Generate streams one completion. The persona's system prompt is
// prepended to msgs. Returns the full accumulated content; aborted is true
// when the sink reported the client gone mid-stream.
func (a *Agent) Generate(ctx context.Context, modelType string, msgs []llm.Message, sink StreamSink) (content string, aborted bool, err error) {
	if a.persona.ModelType != "" {
		modelType = a.persona.ModelType
	}
	backend := a.router.Backend(modelType)

	messages := make([]llm.Message, 0, len(msgs)+1)
	messages = append(messages, llm.Message{Role: "system", Content: a.persona.SystemPrompt})
	messages = append(messages, msgs...)

	req := llm.Request{
		Model:       backend.DefaultModel(),
		Messages:    messages,
		Temperature: a.persona.Temperature,
	}

	handle, err := backend.Stream(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("%s stream failed: %w", a.role, err)
	}
	defer handle.Cancel()

	var b strings.Builder
	for {
		chunk, err := handle.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if b.Len() > 0 {
				// keep what we have; the round falls back on parse
				return b.String(), false, nil
			}
			return "", false, fmt.Errorf("%s stream read failed: %w", a.role, err)
		}
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if sink != nil && !sink(chunk.Content) {
			handle.Cancel()
			return b.String(), true, nil
		}
	}
	return b.String(), false, nil
}
