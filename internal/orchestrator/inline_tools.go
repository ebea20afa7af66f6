package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/llm"
)

// fencedJSONBlock matches a ```json ... ``` or bare ``` ... ``` fenced code
// block, capturing its body.
var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// inlineToolCall is the shape accepted for an embedded tool call: the
// argument object may be named "arguments" or "input", matching the two
// spellings different providers emit inline.
type inlineToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Input     json.RawMessage `json:"input"`
}

// extractInlineToolCalls scans content for embedded {"name":...,
// "arguments"|"input": ...} objects, both bare and fenced, and returns the
// parsed tool calls plus content with the matched JSON stripped out. Some
// providers emit tool calls as inline text rather than as structured tool
// calls; this recovers them so the task loop can dispatch them the same way.
func extractInlineToolCalls(content string) ([]llm.ToolCall, string) {
	var calls []llm.ToolCall
	remaining := content

	for _, match := range fencedJSONBlock.FindAllStringSubmatch(content, -1) {
		full, body := match[0], match[1]
		if call, ok := parseInlineToolCall(body); ok {
			calls = append(calls, call)
			remaining = strings.Replace(remaining, full, "", 1)
		}
	}

	for _, obj := range findBareJSONObjects(remaining) {
		if call, ok := parseInlineToolCall(obj); ok {
			calls = append(calls, call)
			remaining = strings.Replace(remaining, obj, "", 1)
		}
	}

	return calls, strings.TrimSpace(remaining)
}

func parseInlineToolCall(raw string) (llm.ToolCall, bool) {
	var parsed inlineToolCall
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Name == "" {
		return llm.ToolCall{}, false
	}
	argsRaw := parsed.Arguments
	if len(argsRaw) == 0 {
		argsRaw = parsed.Input
	}
	if len(argsRaw) == 0 {
		argsRaw = []byte("{}")
	}
	var args map[string]any
	if err := json.Unmarshal(argsRaw, &args); err != nil {
		args = map[string]any{}
	}
	return llm.ToolCall{
		ID:        uuid.NewString(),
		Name:      parsed.Name,
		Arguments: args,
	}, true
}

// findBareJSONObjects scans text for top-level {...} spans by brace
// depth, since a tool call can appear outside any code fence.
func findBareJSONObjects(text string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return objects
}
