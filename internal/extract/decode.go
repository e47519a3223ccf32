package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetLimit = 160

// StripFences removes markdown code-fence markers and surrounding whitespace.
// Every ```json and ``` occurrence is dropped, wherever it appears.
func StripFences(raw string) string {
	out := strings.ReplaceAll(raw, "```json", "")
	out = strings.ReplaceAll(out, "```JSON", "")
	out = strings.ReplaceAll(out, "```", "")
	return strings.TrimSpace(out)
}

// Decode parses model output into a Program. It tries the fence-stripped text
// first and then the outermost {...} span, for models that add chatter.
func Decode(raw string) (Program, error) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return Program{}, errors.New("empty payload")
	}
	program, err := decodeObject(cleaned)
	if err == nil {
		return program, nil
	}
	span := objectSpan(cleaned)
	if span == "" || span == cleaned {
		return Program{}, fmt.Errorf("%w (payload snippet: %s)", err, snippet(cleaned))
	}
	program, spanErr := decodeObject(span)
	if spanErr != nil {
		return Program{}, fmt.Errorf("%w (payload snippet: %s)", spanErr, snippet(span))
	}
	return program, nil
}

func decodeObject(payload string) (Program, error) {
	if !strings.HasPrefix(payload, "{") {
		return Program{}, errors.New("payload is not a JSON object")
	}
	var program Program
	err := json.Unmarshal([]byte(payload), &program)
	var typeErr *json.UnmarshalTypeError
	if err != nil && !errors.As(err, &typeErr) {
		return Program{}, fmt.Errorf("decode program: %w", err)
	}
	// A mistyped nested field is skipped and the rest decodes normally.
	return program, nil
}

func objectSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLimit {
		return s
	}
	return s[:snippetLimit] + "..."
}
