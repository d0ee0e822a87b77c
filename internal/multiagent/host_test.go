package multiagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSimilarity returns preset values keyed by the pair of texts, falling
// back to a default.
func fixedSimilarity(def float64, pairs map[[2]string]float64) similarityFunc {
	return func(ctx context.Context, a, b string) float64 {
		if v, ok := pairs[[2]string{a, b}]; ok {
			return v
		}
		return def
	}
}

func pos(conclusion string) *PositionSummary {
	return &PositionSummary{Conclusion: conclusion, Confidence: 0.8}
}

func TestAnalyzeTerminatesAtMaxRounds(t *testing.T) {
	h := newHost(fixedSimilarity(0.95, nil))

	// Round cap outranks even a converging consensus.
	d := h.Analyze(context.Background(), 5, 5, pos("a"), pos("b"), nil, nil)
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, []string{RoleReporter}, d.NextAgents)
	assert.InDelta(t, 0.95, d.ConsensusLevel, 1e-9)
}

func TestAnalyzeConvergesAboveThreshold(t *testing.T) {
	h := newHost(fixedSimilarity(0.93, nil))

	d := h.Analyze(context.Background(), 2, 5, pos("a"), pos("b"), nil, nil)
	assert.Equal(t, ActionConverge, d.Action)
	assert.Contains(t, d.NextAgents, RoleReporter)
}

func TestAnalyzeExactThresholdDoesNotConverge(t *testing.T) {
	h := newHost(fixedSimilarity(0.90, nil))

	d := h.Analyze(context.Background(), 1, 5, pos("a"), pos("b"), nil, nil)
	assert.Equal(t, ActionContinue, d.Action)
}

func TestAnalyzeForcesOppositionWhenStuckLow(t *testing.T) {
	h := newHost(fixedSimilarity(0.60, nil))

	// Round 1 with low consensus is still a plain continue.
	d := h.Analyze(context.Background(), 1, 5, pos("a"), pos("b"), nil, nil)
	assert.Equal(t, ActionContinue, d.Action)

	d = h.Analyze(context.Background(), 2, 5, pos("a"), pos("b"), pos("a0"), pos("b0"))
	assert.Equal(t, ActionForceOpposition, d.Action)
	assert.Equal(t, []string{RoleCritic}, d.NextAgents)
}

func TestAnalyzeFlagsStubbornAgents(t *testing.T) {
	planner := pos("planner holds")
	critic := pos("critic holds")
	pairSim := map[[2]string]float64{
		// Cross-agent consensus stays in the middle band.
		{planner.CanonicalText(), critic.CanonicalText()}: 0.80,
		// Both agents' self-similarity stays above the stubborn threshold.
		{planner.CanonicalText(), planner.CanonicalText()}: 0.99,
		{critic.CanonicalText(), critic.CanonicalText()}:   0.99,
	}
	h := newHost(fixedSimilarity(0.80, pairSim))
	ctx := context.Background()

	// Streak 1 after round 2: not yet flagged.
	d := h.Analyze(ctx, 2, 6, planner, critic, planner, critic)
	assert.Equal(t, ActionContinue, d.Action)
	assert.Nil(t, d.Constraints)

	// Streak 2 after round 3: both flagged, constraints attached.
	d = h.Analyze(ctx, 3, 6, planner, critic, planner, critic)
	require.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, []string{RoleCritic, RolePlanner}, d.NextAgents)
	require.NotNil(t, d.Constraints)
	assert.NotEmpty(t, d.Constraints.MustAddress)
	assert.NotEmpty(t, d.Constraints.Avoid)
}

func TestAnalyzeChangedPositionResetsStreak(t *testing.T) {
	planner := pos("planner holds")
	critic := pos("critic holds")
	moved := pos("critic moved substantially")
	pairSim := map[[2]string]float64{
		{planner.CanonicalText(), critic.CanonicalText()}:  0.80,
		{planner.CanonicalText(), planner.CanonicalText()}: 0.99,
		{critic.CanonicalText(), critic.CanonicalText()}:   0.99,
		{critic.CanonicalText(), moved.CanonicalText()}:    0.40,
	}
	h := newHost(fixedSimilarity(0.80, pairSim))
	ctx := context.Background()

	h.Analyze(ctx, 2, 6, planner, critic, planner, critic)
	// Critic moved in round 3; planner reaches streak 2 alone.
	d := h.Analyze(ctx, 3, 6, planner, critic, planner, moved)
	assert.Equal(t, []string{RolePlanner}, d.NextAgents)
}

func TestAnalyzeDefaultContinue(t *testing.T) {
	h := newHost(fixedSimilarity(0.80, nil))

	d := h.Analyze(context.Background(), 1, 5, pos("a"), pos("b"), nil, nil)
	assert.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, []string{RolePlanner, RoleCritic}, d.NextAgents)
}
