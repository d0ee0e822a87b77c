package multiagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPositionStructuredOutput(t *testing.T) {
	raw := `The plan is sound overall.

{"risks": ["scope creep"], "position_summary": {"conclusion": "adopt plan A", "key_reasons": ["cheapest", "fastest"], "assumptions": ["demand stays flat"], "confidence": 0.82}}`

	summary, fallback := ExtractPosition(RolePlanner, raw)
	require.False(t, fallback)
	assert.Equal(t, "adopt plan A", summary.Conclusion)
	assert.Equal(t, []string{"cheapest", "fastest"}, summary.KeyReasons)
	assert.Equal(t, []string{"demand stays flat"}, summary.Assumptions)
	assert.InDelta(t, 0.82, summary.Confidence, 1e-9)
}

func TestExtractPositionSkipsNonMatchingObjects(t *testing.T) {
	raw := `{"note": "just metadata"} some prose {"position_summary": {"conclusion": "keep plan B", "confidence": 0.7}}`

	summary, fallback := ExtractPosition(RoleCritic, raw)
	require.False(t, fallback)
	assert.Equal(t, "keep plan B", summary.Conclusion)
}

func TestExtractPositionSchemaViolationFallsBack(t *testing.T) {
	// confidence out of range fails validation
	raw := `{"position_summary": {"conclusion": "x", "confidence": 1.5}}`

	summary, fallback := ExtractPosition(RolePlanner, raw)
	require.True(t, fallback)
	assert.InDelta(t, fallbackConfidence, summary.Confidence, 1e-9)
}

func TestExtractPositionFallbackUsesFirstLine(t *testing.T) {
	raw := "The strongest option is plan C.\nBecause of cost.\nAnd speed."

	summary, fallback := ExtractPosition(RoleCritic, raw)
	require.True(t, fallback)
	assert.Equal(t, "The strongest option is plan C.", summary.Conclusion)
	assert.InDelta(t, fallbackConfidence, summary.Confidence, 1e-9)
}

func TestExtractPositionEmptyOutput(t *testing.T) {
	summary, fallback := ExtractPosition(RolePlanner, "")
	require.True(t, fallback)
	assert.Contains(t, summary.Conclusion, RolePlanner)
}

func TestCanonicalText(t *testing.T) {
	p := &PositionSummary{
		Conclusion:  "adopt plan A",
		KeyReasons:  []string{"cheap", "fast"},
		Assumptions: []string{"flat demand"},
		Confidence:  0.8,
	}
	assert.Equal(t, "conclusion: adopt plan A\nkey_reasons: cheap; fast\nassumptions: flat demand", p.CanonicalText())
}
