package helpers

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when the input contains no JSON value at all, as
// opposed to containing one that is malformed. Callers distinguish the two:
// "no invocation present" is a valid outcome, a broken invocation is not.
var ErrNoJSON = errors.New("no JSON value found in text")

// ExtractJSON returns the first balanced JSON object or array embedded in s.
// Model output frequently wraps JSON in markdown fences or surrounds it with
// prose; fences are stripped first, then the text is scanned for a balanced
// {...} or [...] segment, ignoring braces inside string literals.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrNoJSON
	}

	if inner, ok := stripCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	sawOpener := false
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			sawOpener = true
			if out, ok := scanBalanced(s, i); ok {
				return out, nil
			}
		}
	}
	if sawOpener {
		return "", errors.New("unbalanced JSON value in text")
	}
	return "", ErrNoJSON
}

// ExtractJSONObject extracts and unmarshals the first complete JSON object
// in s. A balanced segment that still fails to unmarshal is reported as a
// parse error, not as absence.
func ExtractJSONObject(s string) (map[string]interface{}, error) {
	// Quick path: the whole text is already a valid object.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var direct map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
			return direct, nil
		}
	}

	raw, err := ExtractJSON(s)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, errors.New("invalid JSON object in text")
	}
	return obj, nil
}

// stripCodeFence unwraps a leading ``` or ~~~ fenced block, tolerating an
// optional language tag on the opening line.
func stripCodeFence(s string) (string, bool) {
	lead := strings.TrimLeft(s, " \t\r\n")
	var fence string
	switch {
	case strings.HasPrefix(lead, "```"):
		fence = "```"
	case strings.HasPrefix(lead, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := lead[len(fence):]
	nl := strings.IndexByte(rest, '\n')
	if nl == -1 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// scanBalanced walks s from start (which must index '{' or '['), tracking
// nesting and string/escape state, and returns the substring up to and
// including the matching closer.
func scanBalanced(s string, start int) (string, bool) {
	open := s[start]
	if open != '{' && open != '[' {
		return "", false
	}

	var (
		stack    = []byte{open}
		inString bool
		escaped  bool
	)

	for i := start + 1; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
