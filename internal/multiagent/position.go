package multiagent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mindwell-ai/conductor/internal/tools"
)

// fallbackConfidence is assigned when an agent's structured output could not
// be parsed and a minimal summary is synthesized instead.
const fallbackConfidence = 0.65

// PositionSummary is an agent's compressed stance, used for similarity
// based consensus detection.
type PositionSummary struct {
	Conclusion  string   `json:"conclusion"`
	KeyReasons  []string `json:"key_reasons"`
	Assumptions []string `json:"assumptions"`
	Confidence  float64  `json:"confidence"`
}

// CanonicalText serializes the summary to the fixed form fed into the
// similarity metric.
func (p *PositionSummary) CanonicalText() string {
	return fmt.Sprintf("conclusion: %s\nkey_reasons: %s\nassumptions: %s",
		p.Conclusion,
		strings.Join(p.KeyReasons, "; "),
		strings.Join(p.Assumptions, "; "))
}

const positionSchemaJSON = `{
	"type": "object",
	"properties": {
		"position_summary": {
			"type": "object",
			"properties": {
				"conclusion": {"type": "string", "minLength": 1},
				"key_reasons": {"type": "array", "items": {"type": "string"}},
				"assumptions": {"type": "array", "items": {"type": "string"}},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1}
			},
			"required": ["conclusion", "confidence"]
		}
	},
	"required": ["position_summary"]
}`

var positionSchema = jsonschema.MustCompileString("position_summary.json", positionSchemaJSON)

// structuredOutput is the JSON envelope agents append to their prose.
type structuredOutput struct {
	Risks           []string         `json:"risks,omitempty"`
	Suggestions     []string         `json:"suggestions,omitempty"`
	PositionSummary *PositionSummary `json:"position_summary"`
}

// ExtractPosition pulls the schema-validated position summary out of an
// agent's raw output. On any failure it synthesizes a fallback summary from
// the output's first line with lowered confidence; one malformed round must
// not abort the discussion.
func ExtractPosition(agent string, rawOutput string) (*PositionSummary, bool) {
	rest := rawOutput
	for i := 0; i < 5; i++ {
		obj, remainder, ok := tools.ExtractFirstBalancedObject(rest)
		if !ok {
			break
		}
		rest = remainder

		var doc interface{}
		if err := json.Unmarshal([]byte(obj), &doc); err != nil {
			continue
		}
		if err := positionSchema.Validate(doc); err != nil {
			continue
		}

		var parsed structuredOutput
		if err := json.Unmarshal([]byte(obj), &parsed); err != nil || parsed.PositionSummary == nil {
			continue
		}
		return parsed.PositionSummary, false
	}

	return fallbackPosition(agent, rawOutput), true
}

// fallbackPosition synthesizes a minimal valid summary from free text.
func fallbackPosition(agent, rawOutput string) *PositionSummary {
	conclusion := firstLine(rawOutput)
	if conclusion == "" {
		conclusion = fmt.Sprintf("%s produced no structured output", agent)
	}
	return &PositionSummary{
		Conclusion: conclusion,
		Confidence: fallbackConfidence,
	}
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return strings.TrimSpace(text)
}
