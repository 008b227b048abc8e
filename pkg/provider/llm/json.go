package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned by [DecodeJSON] when content holds no JSON object.
var ErrNoJSONObject = errors.New("llm: no JSON object in response")

// DecodeJSON unmarshals the first JSON object in content into v. Markdown
// code fences and surrounding prose that some models emit are ignored.
func DecodeJSON(content string, v any) error {
	s := StripCodeFence(content)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ErrNoJSONObject
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

// StripCodeFence removes optional markdown code fences (```json ... ```).
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
