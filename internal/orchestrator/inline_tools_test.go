package orchestrator

import (
	"strings"
	"testing"
)

func TestExtractInlineToolCallsFromFencedBlock(t *testing.T) {
	content := "I'll check the weather.\n\n```json\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"nyc\"}}\n```\n\nOne moment."
	calls, stripped := extractInlineToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Name != "get_weather" || calls[0].Arguments["city"] != "nyc" {
		t.Errorf("call = %+v", calls[0])
	}
	if strings.Contains(stripped, "get_weather") {
		t.Errorf("stripped content still contains the extracted JSON: %q", stripped)
	}
}

func TestExtractInlineToolCallsFromBareObject(t *testing.T) {
	content := `Calling it now: {"name": "list_files", "input": {"path": "."}} and then I'll summarize.`
	calls, stripped := extractInlineToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Name != "list_files" || calls[0].Arguments["path"] != "." {
		t.Errorf("call = %+v", calls[0])
	}
	if strings.Contains(stripped, "list_files") {
		t.Errorf("stripped content still contains the extracted JSON: %q", stripped)
	}
}

func TestExtractInlineToolCallsIgnoresUnrelatedJSON(t *testing.T) {
	content := `Here's an example config: {"timeout": 30, "retries": 3}`
	calls, stripped := extractInlineToolCalls(content)
	if len(calls) != 0 {
		t.Fatalf("calls = %d, want 0 (no name field)", len(calls))
	}
	if stripped != content {
		t.Errorf("stripped = %q, want content unchanged", stripped)
	}
}

func TestExtractInlineToolCallsDefaultsMissingArguments(t *testing.T) {
	content := `{"name": "ping"}`
	calls, _ := extractInlineToolCalls(content)
	if len(calls) != 1 || calls[0].Name != "ping" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Arguments == nil || len(calls[0].Arguments) != 0 {
		t.Errorf("arguments = %v, want empty non-nil map", calls[0].Arguments)
	}
}
