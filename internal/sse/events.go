package sse

import "time"

// Event type discriminators for multi-agent and control events.
// Single-agent content deltas carry no "type" field (ContentEvent).
const (
	TypeInit            = "init"
	TypeAgentStart      = "agent_start"
	TypeAgentChunk      = "agent_chunk"
	TypeAgentComplete   = "agent_complete"
	TypeHostDecision    = "host_decision"
	TypeRoundComplete   = "round_complete"
	TypeResume          = "resume"
	TypeSessionComplete = "session_complete"
	TypeError           = "error"
)

// InitEvent is the first event in every stream.
type InitEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Mode           string `json:"mode,omitempty"`
}

// NewInitEvent builds the init event for a stream.
func NewInitEvent(conversationID, mode string) InitEvent {
	return InitEvent{Type: TypeInit, ConversationID: conversationID, Mode: mode}
}

// Source is one citation attached to an assistant reply.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ContentEvent is the single-agent streaming delta. It intentionally has no
// type tag; clients treat untyped events as content.
type ContentEvent struct {
	Content  string      `json:"content"`
	Thinking string      `json:"thinking,omitempty"`
	Sources  []Source    `json:"sources,omitempty"`
	ToolCall interface{} `json:"toolCall,omitempty"`
}

// AgentStartEvent marks the beginning of one agent's turn.
type AgentStartEvent struct {
	Type      string `json:"type"`
	Agent     string `json:"agent"`
	Round     int    `json:"round"`
	Timestamp int64  `json:"timestamp"`
}

// AgentChunkEvent carries one streamed delta of an agent's output.
type AgentChunkEvent struct {
	Type      string `json:"type"`
	Agent     string `json:"agent"`
	Round     int    `json:"round"`
	Chunk     string `json:"chunk"`
	Timestamp int64  `json:"timestamp"`
}

// AgentCompleteEvent carries an agent's full output for the round.
type AgentCompleteEvent struct {
	Type        string                 `json:"type"`
	Agent       string                 `json:"agent"`
	Round       int                    `json:"round"`
	FullContent string                 `json:"full_content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
}

// HostDecisionEvent reports the Host's routing decision for the next round.
type HostDecisionEvent struct {
	Type           string   `json:"type"`
	Action         string   `json:"action"`
	Reason         string   `json:"reason"`
	NextAgents     []string `json:"next_agents"`
	ConsensusLevel float64  `json:"consensus_level"`
	Timestamp      int64    `json:"timestamp"`
}

// RoundCompleteEvent marks one completed discussion round.
type RoundCompleteEvent struct {
	Type      string `json:"type"`
	Round     int    `json:"round"`
	Timestamp int64  `json:"timestamp"`
}

// ResumeEvent announces that a session was restored from a checkpoint.
type ResumeEvent struct {
	Type              string `json:"type"`
	ResumedFromRound  int    `json:"resumedFromRound"`
	ContinueFromRound int    `json:"continueFromRound"`
	Timestamp         int64  `json:"timestamp"`
}

// SessionCompleteEvent is the terminal multi-agent event.
type SessionCompleteEvent struct {
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Rounds         int       `json:"rounds"`
	ConsensusTrend []float64 `json:"consensus_trend"`
	Timestamp      int64     `json:"timestamp"`
}

// ErrorEvent is the terminal error surfaced to the UI.
type ErrorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Now returns the millisecond timestamp used in event payloads.
func Now() int64 {
	return time.Now().UnixMilli()
}
