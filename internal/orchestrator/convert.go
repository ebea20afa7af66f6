package orchestrator

import (
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/models"
)

// toLLMMessages projects conversation history into the vendor-independent
// shape internal/llm's Service expects.
func toLLMMessages(history []models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   toLLMToolCalls(m.ToolCalls),
			ToolResults: toLLMToolResults(m.ToolResults),
			Attachments: toLLMAttachments(m.Attachments),
		})
	}
	return out
}

func toLLMToolCalls(calls []models.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		var args map[string]any
		if len(c.Input) > 0 {
			_ = json.Unmarshal(c.Input, &args)
		}
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: args})
	}
	return out
}

func toLLMToolResults(results []models.ToolResult) []llm.ToolResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]llm.ToolResult, 0, len(results))
	for _, r := range results {
		out = append(out, llm.ToolResult{ToolCallID: r.ToolCallID, Content: r.Content, IsError: r.IsError})
	}
	return out
}

func toLLMAttachments(attachments []models.Attachment) []llm.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]llm.Attachment, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, llm.Attachment{MimeType: a.MimeType, URL: a.URL})
	}
	return out
}

// fromLLMToolCall converts a vendor-independent tool call from the LLM
// result back into the wire shape the tool executor and task history use.
func fromLLMToolCall(call llm.ToolCall) models.ToolCall {
	input, err := json.Marshal(call.Arguments)
	if err != nil {
		input = []byte("{}")
	}
	return models.ToolCall{ID: call.ID, Name: call.Name, Input: input}
}
