package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mindwell-ai/conductor/internal/config"
	"github.com/mindwell-ai/conductor/internal/embedding"
	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/session"
	"github.com/mindwell-ai/conductor/internal/sse"
	"github.com/mindwell-ai/conductor/internal/store"
)

// MessagePersister is the slice of the message repository the orchestrator
// needs for its single assistant row.
type MessagePersister interface {
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (string, error)
}

// Orchestrator runs the round-based Planner/Critic/Host/Reporter state
// machine over one SSE stream, checkpointing after every round.
type Orchestrator struct {
	planner  *Agent
	critic   *Agent
	reporter *Agent

	sessions   *session.Store
	messages   MessagePersister
	similarity similarityFunc
	log        *logger.Logger

	defaultMaxRounds int
}

// New creates the orchestrator with its three LLM-backed agents.
func New(agents *config.AgentsConfig, router *llm.Router, sessions *session.Store, messages MessagePersister, embedder embedding.Service, maxRounds int, log *logger.Logger) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &Orchestrator{
		planner:          NewAgent(RolePlanner, agents.Planner, router, log),
		critic:           NewAgent(RoleCritic, agents.Critic, router, log),
		reporter:         NewAgent(RoleReporter, agents.Reporter, router, log),
		sessions:         sessions,
		messages:         messages,
		similarity:       newSimilarityFunc(embedder, log.WithComponent("consensus")),
		log:              log.WithComponent("multiagent"),
		defaultMaxRounds: maxRounds,
	}
}

// RunParams identify one multi-agent request.
type RunParams struct {
	ConversationID           string
	AssistantMessageID       string
	ClientAssistantMessageID string
	UserID                   string
	UserQuery                string
	ModelType                string
	MaxRounds                int
	ResumeFromRound          int
}

// Run drives the session to completion, emitting the multi-agent event
// protocol on w. It never returns an error across the SSE boundary; failures
// become error events. It returns the Reporter's final content, empty when
// the client disconnected before the report.
func (o *Orchestrator) Run(ctx context.Context, w *sse.Writer, p RunParams) (finalContent string) {
	if p.MaxRounds <= 0 {
		p.MaxRounds = o.defaultMaxRounds
	}

	state, startRound := o.restoreOrInit(ctx, w, p)
	host := newHost(o.similarity)

	var (
		lastDecision HostDecision
		clientGone   bool
	)

	for round := startRound; round <= p.MaxRounds; round++ {
		if w.IsClosed() {
			clientGone = true
			break
		}
		state.CurrentRound = round

		plannerOut, aborted := o.runAgent(ctx, w, o.planner, p, state, round, lastDecision)
		if aborted {
			clientGone = true
			break
		}
		if w.IsClosed() {
			clientGone = true
			break
		}

		criticOut, aborted := o.runAgent(ctx, w, o.critic, p, state, round, lastDecision)
		if aborted {
			clientGone = true
			break
		}

		prevPlanner := positionOf(state.outputAt(RolePlanner, round-1))
		prevCritic := positionOf(state.outputAt(RoleCritic, round-1))

		state.History = append(state.History, RoundRecord{
			Round:   round,
			Outputs: []AgentOutput{*plannerOut, *criticOut},
		})

		decision := host.Analyze(ctx, round, p.MaxRounds, plannerOut.Position, criticOut.Position, prevPlanner, prevCritic)
		state.ConsensusTrend = append(state.ConsensusTrend, decision.ConsensusLevel)
		state.UpdatedAt = time.Now()

		w.WriteEvent(sse.HostDecisionEvent{
			Type:           sse.TypeHostDecision,
			Action:         decision.Action,
			Reason:         decision.Reason,
			NextAgents:     decision.NextAgents,
			ConsensusLevel: decision.ConsensusLevel,
			Timestamp:      sse.Now(),
		})
		w.WriteEvent(sse.RoundCompleteEvent{Type: sse.TypeRoundComplete, Round: round, Timestamp: sse.Now()})

		o.checkpoint(ctx, p, state, round)

		lastDecision = decision
		switch decision.Action {
		case ActionConverge:
			state.Status = StatusConverged
		case ActionTerminate:
			state.Status = StatusTerminated
		}
		if decision.Action == ActionConverge || decision.Action == ActionTerminate {
			break
		}
	}

	if clientGone {
		// The user hung up. The last completed round is already
		// checkpointed; the session resumes from there.
		state.Status = StatusTerminated
		o.log.Info("client disconnected, session checkpointed",
			slog.String("conversation_id", p.ConversationID),
			slog.Int("completed_rounds", len(state.History)))
		return ""
	}

	if state.Status == StatusInProgress {
		state.Status = StatusTerminated
	}

	finalContent = o.runReporter(ctx, w, p, state)

	w.WriteEvent(sse.SessionCompleteEvent{
		Type:           sse.TypeSessionComplete,
		Status:         state.Status,
		Rounds:         len(state.History),
		ConsensusTrend: state.ConsensusTrend,
		Timestamp:      sse.Now(),
	})
	return finalContent
}

// restoreOrInit loads a checkpoint when a valid resume is requested,
// otherwise starts fresh. A missing or stale checkpoint silently downgrades
// to round 1.
func (o *Orchestrator) restoreOrInit(ctx context.Context, w *sse.Writer, p RunParams) (*SessionState, int) {
	fresh := &SessionState{
		SessionID: p.ConversationID + ":" + p.AssistantMessageID,
		UserQuery: p.UserQuery,
		Status:    StatusInProgress,
		MaxRounds: p.MaxRounds,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if p.ResumeFromRound <= 1 {
		return fresh, 1
	}

	saved, err := o.sessions.Load(ctx, p.ConversationID, p.AssistantMessageID, true)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			o.log.Warn("checkpoint load failed, starting fresh", slog.String("error", err.Error()))
		}
		return fresh, 1
	}
	if saved.CompletedRounds < p.ResumeFromRound-1 {
		return fresh, 1
	}

	var state SessionState
	if err := json.Unmarshal(saved.SessionState, &state); err != nil {
		o.log.Warn("corrupt checkpoint state, starting fresh", slog.String("error", err.Error()))
		return fresh, 1
	}

	continueFrom := saved.CompletedRounds + 1
	state.Status = StatusInProgress
	w.WriteEvent(sse.ResumeEvent{
		Type:              sse.TypeResume,
		ResumedFromRound:  saved.CompletedRounds,
		ContinueFromRound: continueFrom,
		Timestamp:         sse.Now(),
	})
	o.log.Info("session resumed from checkpoint",
		slog.String("conversation_id", p.ConversationID),
		slog.Int("completed_rounds", saved.CompletedRounds))
	return &state, continueFrom
}

// runAgent streams one agent turn with the standard event envelope and
// extracts its position summary.
func (o *Orchestrator) runAgent(ctx context.Context, w *sse.Writer, agent *Agent, p RunParams, state *SessionState, round int, last HostDecision) (*AgentOutput, bool) {
	role := agent.Role()
	w.WriteEvent(sse.AgentStartEvent{Type: sse.TypeAgentStart, Agent: role, Round: round, Timestamp: sse.Now()})

	msgs := o.buildMessages(role, state, round, last)
	sink := func(chunk string) bool {
		return w.WriteEvent(sse.AgentChunkEvent{
			Type: sse.TypeAgentChunk, Agent: role, Round: round, Chunk: chunk, Timestamp: sse.Now(),
		})
	}

	content, aborted, err := agent.Generate(ctx, p.ModelType, msgs, sink)
	if aborted {
		return nil, true
	}
	if err != nil {
		o.log.Warn("agent generation failed, using fallback output",
			slog.String("agent", role),
			slog.Int("round", round),
			slog.String("error", err.Error()))
		content = fmt.Sprintf("(%s unavailable this round: %v)", role, err)
	}

	position, fallback := ExtractPosition(role, content)
	out := &AgentOutput{
		Agent:    role,
		Round:    round,
		Content:  content,
		Position: position,
		Fallback: fallback || err != nil,
	}

	w.WriteEvent(sse.AgentCompleteEvent{
		Type:        sse.TypeAgentComplete,
		Agent:       role,
		Round:       round,
		FullContent: content,
		Metadata: map[string]interface{}{
			"confidence": position.Confidence,
			"fallback":   out.Fallback,
		},
		Timestamp: sse.Now(),
	})
	return out, false
}

// buildMessages assembles one agent's prompt from the session so far.
func (o *Orchestrator) buildMessages(role string, state *SessionState, round int, last HostDecision) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", state.UserQuery)

	switch role {
	case RolePlanner:
		if prev := state.lastOutput(RolePlanner); prev != nil {
			fmt.Fprintf(&b, "\nYour previous plan (round %d):\n%s\n", prev.Round, prev.Content)
		}
		if critic := state.lastOutput(RoleCritic); critic != nil {
			fmt.Fprintf(&b, "\nCritic feedback to address:\n%s\n", critic.Content)
		}
	case RoleCritic:
		if planner := state.lastOutput(RolePlanner); planner != nil {
			fmt.Fprintf(&b, "\nPlanner output to critique (round %d):\n%s\n", planner.Round, planner.Content)
		}
		if last.Action == ActionForceOpposition {
			b.WriteString("\nThis round you must play devil's advocate: argue the strongest case against the plan, even where you previously agreed.\n")
		}
	}

	if last.Constraints != nil && contains(last.NextAgents, role) {
		if len(last.Constraints.MustAddress) > 0 {
			fmt.Fprintf(&b, "\nYou must address: %s\n", strings.Join(last.Constraints.MustAddress, "; "))
		}
		if len(last.Constraints.Avoid) > 0 {
			fmt.Fprintf(&b, "Avoid: %s\n", strings.Join(last.Constraints.Avoid, "; "))
		}
	}

	if round > 1 && role != RoleReporter {
		fmt.Fprintf(&b, "\nThis is round %d of the discussion.\n", round)
	}

	return []llm.Message{{Role: "user", Content: b.String()}}
}

// runReporter synthesizes the final answer and persists the one assistant
// message row for the session.
func (o *Orchestrator) runReporter(ctx context.Context, w *sse.Writer, p RunParams, state *SessionState) string {
	if w.IsClosed() {
		return ""
	}

	w.WriteEvent(sse.AgentStartEvent{Type: sse.TypeAgentStart, Agent: RoleReporter, Round: state.CurrentRound, Timestamp: sse.Now()})

	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\nDiscussion transcript:\n", state.UserQuery)
	for _, round := range state.History {
		for _, out := range round.Outputs {
			fmt.Fprintf(&b, "\n[round %d, %s]\n%s\n", round.Round, out.Agent, out.Content)
		}
	}
	msgs := []llm.Message{{Role: "user", Content: b.String()}}

	sink := func(chunk string) bool {
		return w.WriteEvent(sse.AgentChunkEvent{
			Type: sse.TypeAgentChunk, Agent: RoleReporter, Round: state.CurrentRound, Chunk: chunk, Timestamp: sse.Now(),
		})
	}

	content, aborted, err := o.reporter.Generate(ctx, p.ModelType, msgs, sink)
	if err != nil {
		o.log.Error("reporter generation failed", slog.String("error", err.Error()))
		w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: "failed to generate final report", Timestamp: sse.Now()})
		return ""
	}

	w.WriteEvent(sse.AgentCompleteEvent{
		Type:        sse.TypeAgentComplete,
		Agent:       RoleReporter,
		Round:       state.CurrentRound,
		FullContent: content,
		Timestamp:   sse.Now(),
	})

	if !aborted && content != "" {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_, err := o.messages.CreateMessage(persistCtx, store.CreateMessageParams{
			ConversationID:  p.ConversationID,
			UserID:          p.UserID,
			Role:            "assistant",
			Content:         content,
			ClientMessageID: p.ClientAssistantMessageID,
			ModelType:       p.ModelType,
		})
		if err != nil {
			o.log.Error("failed to persist final report", slog.String("error", err.Error()))
		}

		if err := o.sessions.Delete(persistCtx, p.ConversationID, p.AssistantMessageID, p.UserID); err != nil {
			o.log.Debug("failed to delete checkpoint", slog.String("error", err.Error()))
		}
	}
	return content
}

// checkpoint saves the session state after a completed round. The save is
// asynchronous; the checkpoint worker outlives the request.
func (o *Orchestrator) checkpoint(ctx context.Context, p RunParams, state *SessionState, completedRounds int) {
	snapshot, err := json.Marshal(state)
	if err != nil {
		o.log.Error("failed to snapshot session state", slog.String("error", err.Error()))
		return
	}

	err = o.sessions.Save(ctx, session.State{
		ConversationID:     p.ConversationID,
		AssistantMessageID: p.AssistantMessageID,
		UserID:             p.UserID,
		CompletedRounds:    completedRounds,
		SessionState:       snapshot,
		UserQuery:          p.UserQuery,
	}, session.SaveOptions{MaxRounds: p.MaxRounds, Async: true})
	if err != nil {
		o.log.Warn("checkpoint save failed",
			slog.Int("round", completedRounds),
			slog.String("error", err.Error()))
	}
}

func positionOf(out *AgentOutput) *PositionSummary {
	if out == nil {
		return nil
	}
	return out.Position
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
