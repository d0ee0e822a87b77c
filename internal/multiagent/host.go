package multiagent

import (
	"context"
	"fmt"
	"sort"
)

// HostDecision actions.
const (
	ActionContinue        = "continue"
	ActionConverge        = "converge"
	ActionForceOpposition = "force_opposition"
	ActionTerminate       = "terminate"
)

// Decision thresholds. The table in decide() is evaluated top to bottom,
// first match wins.
const (
	convergeThreshold   = 0.90
	oppositionThreshold = 0.70
	stubbornThreshold   = 0.98
	stubbornStreak      = 2
)

// Constraints steer targeted agents in the next round.
type Constraints struct {
	MustAddress []string `json:"must_address,omitempty"`
	Avoid       []string `json:"avoid,omitempty"`
}

// HostDecision is the Host's routing decision for the next round.
type HostDecision struct {
	Action         string       `json:"action"`
	Reason         string       `json:"reason"`
	NextAgents     []string     `json:"next_agents"`
	Constraints    *Constraints `json:"constraints,omitempty"`
	ConsensusLevel float64      `json:"consensus_level"`
}

// Host analyzes the Planner's and Critic's positions each round. It never
// calls the model; its decision is deterministic given the positions and
// the similarity metric.
type Host struct {
	similarity similarityFunc

	// consecutive rounds each agent's position stayed nearly identical
	streaks map[string]int
}

func newHost(similarity similarityFunc) *Host {
	return &Host{
		similarity: similarity,
		streaks:    make(map[string]int),
	}
}

// Analyze computes the consensus level, updates stubbornness streaks and
// applies the decision table. previous holds the prior round's positions
// and may contain nils on round 1.
func (h *Host) Analyze(ctx context.Context, round, maxRounds int, planner, critic *PositionSummary, prevPlanner, prevCritic *PositionSummary) HostDecision {
	consensus := h.similarity(ctx, planner.CanonicalText(), critic.CanonicalText())

	if round >= 2 {
		h.updateStreak(ctx, RolePlanner, planner, prevPlanner)
		h.updateStreak(ctx, RoleCritic, critic, prevCritic)
	}
	stubborn := h.stubbornAgents()

	switch {
	case round >= maxRounds:
		return HostDecision{
			Action:         ActionTerminate,
			Reason:         fmt.Sprintf("reached maximum of %d rounds", maxRounds),
			NextAgents:     []string{RoleReporter},
			ConsensusLevel: consensus,
		}

	case consensus > convergeThreshold:
		return HostDecision{
			Action:         ActionConverge,
			Reason:         fmt.Sprintf("consensus %.2f exceeds %.2f", consensus, convergeThreshold),
			NextAgents:     []string{RolePlanner, RoleCritic, RoleReporter},
			ConsensusLevel: consensus,
		}

	case consensus <= oppositionThreshold && round >= 2:
		return HostDecision{
			Action:         ActionForceOpposition,
			Reason:         fmt.Sprintf("consensus %.2f stuck at or below %.2f", consensus, oppositionThreshold),
			NextAgents:     []string{RoleCritic},
			ConsensusLevel: consensus,
		}

	case len(stubborn) > 0:
		return HostDecision{
			Action:     ActionContinue,
			Reason:     fmt.Sprintf("agents holding unchanged positions: %v", stubborn),
			NextAgents: stubborn,
			Constraints: &Constraints{
				MustAddress: []string{"modify at least one assumption", "lower confidence if evidence is unchanged"},
				Avoid:       []string{"restating the previous position verbatim"},
			},
			ConsensusLevel: consensus,
		}

	default:
		return HostDecision{
			Action:         ActionContinue,
			Reason:         "no convergence yet, discussion productive",
			NextAgents:     []string{RolePlanner, RoleCritic},
			ConsensusLevel: consensus,
		}
	}
}

// updateStreak tracks how many consecutive rounds an agent's position has
// stayed above the self-similarity threshold.
func (h *Host) updateStreak(ctx context.Context, agent string, current, previous *PositionSummary) {
	if current == nil || previous == nil {
		h.streaks[agent] = 0
		return
	}
	if h.similarity(ctx, current.CanonicalText(), previous.CanonicalText()) > stubbornThreshold {
		h.streaks[agent]++
	} else {
		h.streaks[agent] = 0
	}
}

// stubbornAgents lists agents whose streak reached the flagging length.
func (h *Host) stubbornAgents() []string {
	var agents []string
	for agent, streak := range h.streaks {
		if streak >= stubbornStreak {
			agents = append(agents, agent)
		}
	}
	sort.Strings(agents)
	return agents
}
