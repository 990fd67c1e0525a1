package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errEmptyOutput = errors.New("output is empty")
	errNotObject   = errors.New("output is not a JSON object")
)

// parsePayload extracts the top-level JSON object from model output, with
// recovery for markdown code fences and surrounding prose. A schema with a
// single field also accepts a bare scalar reply such as `1.4142`.
func parsePayload(s *Schema, content string) (map[string]json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errEmptyOutput
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractObjectCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}

	if s.Len() == 1 {
		bare := content
		if stripped := stripCodeFences(content); stripped != "" {
			bare = stripped
		}
		if !strings.HasPrefix(bare, "{") && !strings.HasPrefix(bare, "[") {
			return map[string]json.RawMessage{s.fields[0].Name: bareScalar(bare)}, nil
		}
	}
	return nil, errNotObject
}

// bareScalar keeps valid JSON scalars as they are and quotes anything else.
func bareScalar(text string) json.RawMessage {
	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err == nil {
		switch probe.(type) {
		case string, float64, bool:
			return json.RawMessage(text)
		}
	}
	quoted, _ := json.Marshal(text)
	return quoted
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence line, and the closing one if present.
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractObjectCandidate(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

// decodeField converts one raw JSON value according to the field type.
func decodeField(f Field, raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	kind := jsonKind(raw)
	if kind == "null" {
		return nil, errors.New("value is null")
	}

	switch f.Type {
	case TypeString:
		switch kind {
		case "string":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("invalid string: %v", err)
			}
			return strings.TrimSpace(s), nil
		case "number", "bool":
			return string(raw), nil
		default:
			return nil, fmt.Errorf("expected a string, got %s", kind)
		}

	case TypeInteger:
		text, err := numericText(raw, kind)
		if err != nil {
			return nil, err
		}
		return parseInteger(text)

	case TypeFloat:
		text, err := numericText(raw, kind)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%q is not a number", text)
		}
		return v, nil

	case TypeEnum:
		if kind != "string" {
			return nil, fmt.Errorf("expected one of %s, got %s", quoteChoices(f.Choices), kind)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid string: %v", err)
		}
		for _, c := range f.Choices {
			if s == c {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, quoteChoices(f.Choices))
	}
	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}

// numericText returns the text of a JSON number, or the trimmed content
// of a JSON string that should hold one.
func numericText(raw json.RawMessage, kind string) (string, error) {
	switch kind {
	case "number":
		return string(raw), nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid string: %v", err)
		}
		return strings.TrimSpace(s), nil
	default:
		return "", fmt.Errorf("expected a number, got %s", kind)
	}
}

func parseInteger(text string) (int64, error) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%q is out of integer range", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= 0x1p63 || f < -0x1p63 {
		return 0, fmt.Errorf("%q is out of integer range", text)
	}
	return int64(f), nil
}

func jsonKind(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func quoteChoices(choices []string) string {
	quoted := make([]string, len(choices))
	for i, c := range choices {
		quoted[i] = strconv.Quote(c)
	}
	return strings.Join(quoted, ", ")
}
