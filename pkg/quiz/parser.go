// Package quiz turns free-form model text into validated quiz items.
package quiz

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xhad/studyroom/internal/models"
)

// MaxItems caps every parsed quiz.
const MaxItems = 5

// ParseError reports model output that holds no usable quiz.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("quiz parse error: %s", e.Reason)
}

var validOptionIDs = map[string]bool{"A": true, "B": true, "C": true, "D": true}

// ExtractJSON returns the first balanced JSON array or object in raw that is
// also valid JSON. Brackets inside string literals are ignored. Balanced
// spans that fail to parse are skipped and the scan resumes after their
// opening bracket.
func ExtractJSON(raw string) (string, bool) {
	for start := 0; start < len(raw); start++ {
		if raw[start] != '[' && raw[start] != '{' {
			continue
		}
		end := matchBracket(raw, start)
		if end < 0 {
			continue
		}
		candidate := raw[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// matchBracket returns the index closing the bracket at start, or -1.
func matchBracket(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
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
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// Parse extracts quiz items from raw model text. When the JSON value is an
// object, its first array-valued field in source order is taken as the item
// list. Invalid items are dropped and the result is capped at MaxItems. An
// empty array is a valid, empty quiz.
func Parse(raw string) ([]models.QuizItem, error) {
	candidate, ok := ExtractJSON(raw)
	if !ok {
		return nil, &ParseError{Reason: "no JSON array or object found", Raw: raw}
	}

	list := gjson.Parse(candidate)
	if list.IsObject() {
		var found gjson.Result
		list.ForEach(func(_, value gjson.Result) bool {
			if value.IsArray() {
				found = value
				return false
			}
			return true
		})
		if !found.Exists() {
			return nil, &ParseError{Reason: "object has no array field", Raw: raw}
		}
		list = found
	}

	elements := list.Array()
	items := make([]models.QuizItem, 0, MaxItems)
	for _, el := range elements {
		item, ok := parseItem(el)
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) == MaxItems {
			break
		}
	}

	if len(elements) > 0 && len(items) == 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("none of %d items is a valid question", len(elements)), Raw: raw}
	}
	return items, nil
}

func parseItem(el gjson.Result) (models.QuizItem, bool) {
	if !el.IsObject() {
		return models.QuizItem{}, false
	}

	question := el.Get("question")
	if question.Type != gjson.String || strings.TrimSpace(question.Str) == "" {
		return models.QuizItem{}, false
	}

	opts := el.Get("options")
	if !opts.IsArray() {
		return models.QuizItem{}, false
	}
	options := make([]models.QuizOption, 0, 4)
	seen := make(map[string]bool, 4)
	for _, o := range opts.Array() {
		id := normalizeID(o.Get("id"))
		text := o.Get("text")
		if !validOptionIDs[id] || seen[id] || text.Type != gjson.String || strings.TrimSpace(text.Str) == "" {
			return models.QuizItem{}, false
		}
		seen[id] = true
		options = append(options, models.QuizOption{ID: id, Text: strings.TrimSpace(text.Str)})
	}
	if len(options) == 0 || len(options) > 4 {
		return models.QuizItem{}, false
	}

	answer := normalizeID(el.Get("answer"))
	if !seen[answer] {
		return models.QuizItem{}, false
	}

	return models.QuizItem{
		Question: strings.TrimSpace(question.Str),
		Options:  options,
		Answer:   answer,
	}, true
}

func normalizeID(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(v.Str))
}
