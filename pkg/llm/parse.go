package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/malbeclabs/querysynth/pkg/sqlclamp"
)

const maxExplanationRunes = 500

var (
	ErrNoJSON  = errors.New("no JSON found in response")
	ErrNoQuery = errors.New("no SQL query found in response")
)

// fence is the body of one ``` block and its info string, if any.
type fence struct {
	lang string
	body string
}

// fences returns the fenced blocks of a response in order. An unterminated
// trailing block is kept.
func fences(response string) []fence {
	parts := strings.Split(response, "```")
	var out []fence
	for i := 1; i < len(parts); i += 2 {
		block := parts[i]
		var f fence
		if head, rest, ok := strings.Cut(block, "\n"); ok && isInfoString(head) {
			f.lang = strings.ToLower(strings.TrimSpace(head))
			block = rest
		}
		f.body = strings.TrimSpace(block)
		if f.body != "" {
			out = append(out, f)
		}
	}
	return out
}

func isInfoString(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// firstValue decodes the first complete JSON object or array in s. Text
// around the value is ignored.
func firstValue(s string, opens string) (json.RawMessage, bool) {
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(opens, rune(s[i])) {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}

// rawJSON finds the JSON payload of a response. Blocks tagged json win,
// then other blocks, then the prose itself.
func rawJSON(response, opens string) (json.RawMessage, bool) {
	blocks := fences(response)
	for _, f := range blocks {
		if f.lang == "json" {
			if raw, ok := firstValue(f.body, opens); ok {
				return raw, true
			}
		}
	}
	for _, f := range blocks {
		if f.lang != "json" {
			if raw, ok := firstValue(f.body, opens); ok {
				return raw, true
			}
		}
	}
	return firstValue(response, opens)
}

// DecodeItems decodes a list answer. Both {"items": [...]} and a bare array
// are accepted.
func DecodeItems[T any](response string) ([]T, error) {
	raw, ok := rawJSON(response, "{[")
	if !ok {
		return nil, ErrNoJSON
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Items *[]T `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if wrapped.Items == nil {
		return nil, fmt.Errorf("failed to parse JSON: object has no items")
	}
	return *wrapped.Items, nil
}

// ParseSQL pulls one read-only query and its explanation out of a generate
// answer. It understands {"sql": ..., "explanation": ...}, fenced blocks
// (sql first) and a bare statement. Candidates that are not a single read
// query are skipped; when every candidate is rejected the rejection of the
// preferred one is returned so it can be fed back to the model.
func ParseSQL(response string) (sql, explanation string, err error) {
	var answer struct {
		SQL         string `json:"sql"`
		Explanation string `json:"explanation"`
	}
	var candidates []string
	if raw, ok := rawJSON(response, "{"); ok && json.Unmarshal(raw, &answer) == nil && strings.TrimSpace(answer.SQL) != "" {
		candidates = append(candidates, answer.SQL)
		explanation = answer.Explanation
	}

	blocks := fences(response)
	for _, f := range blocks {
		if f.lang == "sql" {
			candidates = append(candidates, f.body)
		}
	}
	for _, f := range blocks {
		if f.lang != "sql" && f.lang != "json" {
			candidates = append(candidates, f.body)
		}
	}
	if len(blocks) == 0 {
		candidates = append(candidates, response)
	}

	var rejected error
	for _, c := range candidates {
		q := trimStatement(c)
		if q == "" {
			continue
		}
		if verr := sqlclamp.Validate(q); verr != nil {
			if rejected == nil {
				rejected = verr
			}
			continue
		}
		if explanation == "" && len(blocks) > 0 {
			explanation = prose(response)
		}
		return q, truncateRunes(strings.TrimSpace(explanation), maxExplanationRunes), nil
	}
	if rejected != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNoQuery, rejected)
	}
	return "", "", ErrNoQuery
}

// trimStatement drops surrounding space and trailing semicolons.
func trimStatement(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "; \t\r\n")
}

// prose is the text before the first fenced block.
func prose(response string) string {
	before, _, _ := strings.Cut(response, "```")
	return before
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
