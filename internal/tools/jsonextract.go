package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedJSONRe matches a ```json fenced block (closing fence optional, the
// model may have been truncated mid-block).
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?)(?:```|$)")

// ExtractFirstBalancedObject scans text for the first balanced JSON object
// and returns it with the remainder of the text. The parser tracks string
// and escape state so braces inside string literals don't count.
//
// If the object is truncated (depth never returns to zero), the scanned
// prefix is auto-repaired by closing any open string and appending the
// missing closing braces, then validated. Returns ok=false when no
// parseable object exists.
func ExtractFirstBalancedObject(text string) (obj string, remainder string, ok bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", "", false
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, text[i+1:], true
				}
				// Balanced but invalid; try the next opening brace.
				if next, rem, found := ExtractFirstBalancedObject(text[i+1:]); found {
					return next, rem, true
				}
				return "", "", false
			}
		}
	}

	// Truncated object: close the open string and any open braces.
	repaired := text[start:]
	if inString {
		repaired += "\""
	}
	repaired = strings.TrimRight(repaired, ", \t\n")
	repaired += strings.Repeat("}", depth)
	if json.Valid([]byte(repaired)) {
		return repaired, "", true
	}
	return "", "", false
}

// toolCallPayload is the embedded-JSON tool call shape models are prompted
// to emit when native function calling is unavailable.
type toolCallPayload struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// ExtractEmbeddedCall finds a tool-call payload in free-form model text.
//
// Candidates are tried in priority order: a ```json fenced block, then any
// raw balanced object, then a truncated object after auto-repair (the
// balanced-object parser performs the repair). A candidate counts only if
// it decodes to an object with a non-empty "tool" field.
func ExtractEmbeddedCall(text string) (*Call, bool) {
	for _, candidate := range candidateObjects(text) {
		var payload toolCallPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		if payload.Tool == "" {
			continue
		}
		input := "{}"
		if len(payload.Input) > 0 {
			input = string(payload.Input)
		}
		return &Call{Tool: payload.Tool, Input: input}, true
	}
	return nil, false
}

// candidateObjects yields JSON object candidates in priority order.
func candidateObjects(text string) []string {
	var candidates []string

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if obj, _, ok := ExtractFirstBalancedObject(m[1]); ok {
			candidates = append(candidates, obj)
		}
	}

	rest := text
	for i := 0; i < 5; i++ { // scan at most a handful of objects
		obj, remainder, ok := ExtractFirstBalancedObject(rest)
		if !ok {
			break
		}
		candidates = append(candidates, obj)
		rest = remainder
		if rest == "" {
			break
		}
	}

	return candidates
}
