package multiagent

import "time"

// Agent role names. Rounds run planner then critic; the host analyzes and
// the reporter closes the session.
const (
	RolePlanner  = "planner"
	RoleCritic   = "critic"
	RoleHost     = "host"
	RoleReporter = "reporter"
)

// Session status values.
const (
	StatusInProgress = "in_progress"
	StatusConverged  = "converged"
	StatusTerminated = "terminated"
)

// AgentOutput is one agent's contribution to a round.
type AgentOutput struct {
	Agent    string           `json:"agent"`
	Round    int              `json:"round"`
	Content  string           `json:"content"`
	Position *PositionSummary `json:"position,omitempty"`
	Fallback bool             `json:"fallback,omitempty"`
}

// RoundRecord is the history entry for one completed round.
type RoundRecord struct {
	Round   int           `json:"round"`
	Outputs []AgentOutput `json:"outputs"`
}

// SessionState is the orchestrator's in-memory snapshot, serialized into
// each checkpoint.
type SessionState struct {
	SessionID      string        `json:"sessionId"`
	UserQuery      string        `json:"userQuery"`
	Status         string        `json:"status"`
	CurrentRound   int           `json:"currentRound"`
	MaxRounds      int           `json:"maxRounds"`
	History        []RoundRecord `json:"history"`
	ConsensusTrend []float64     `json:"consensusTrend"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// lastOutput returns the most recent output from the named agent, searching
// history newest first.
func (s *SessionState) lastOutput(agent string) *AgentOutput {
	for i := len(s.History) - 1; i >= 0; i-- {
		for j := range s.History[i].Outputs {
			if s.History[i].Outputs[j].Agent == agent {
				return &s.History[i].Outputs[j]
			}
		}
	}
	return nil
}

// outputAt returns the named agent's output from a specific round.
func (s *SessionState) outputAt(agent string, round int) *AgentOutput {
	for i := range s.History {
		if s.History[i].Round != round {
			continue
		}
		for j := range s.History[i].Outputs {
			if s.History[i].Outputs[j].Agent == agent {
				return &s.History[i].Outputs[j]
			}
		}
	}
	return nil
}
