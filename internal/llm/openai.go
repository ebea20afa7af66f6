package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against OpenAI's chat completions API,
// or any OpenAI-compatible server when BaseURL is set (used for the local
// inference provider, LocalConfig).
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	models       []Model
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // non-empty for OpenAI-compatible servers (local, etc.)
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewOpenAIProvider returns a provider registered under the name "openai".
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	return newOpenAICompatProvider("openai", cfg, defaultOpenAIModels())
}

// NewLocalProvider returns an OpenAI-compatible provider for a local
// inference server, registered under the name "local". cfg.BaseURL must
// point at the server's OpenAI-compatible endpoint.
func NewLocalProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm: local provider requires BaseURL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "local" // most local servers ignore the key but require one
	}
	models := []Model{{ID: cfg.DefaultModel, Name: cfg.DefaultModel, ContextSize: 32768}}
	return newOpenAICompatProvider("local", cfg, models)
}

func newOpenAICompatProvider(name string, cfg OpenAIConfig, models []Model) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: %s provider requires an API key", name)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         name,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		models:       models,
	}, nil
}

func defaultOpenAIModels() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
	}
}

func (p *OpenAIProvider) Name() string       { return p.name }
func (p *OpenAIProvider) Models() []Model    { return p.models }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(events)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			break
		}
		if !isRetryableOpenAIError(err) {
			return nil, fmt.Errorf("%s: non-retryable error: %w", p.name, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: max retries exceeded: %w", p.name, err)
	}

	events := make(chan *Event)
	go p.processStream(ctx, stream, events)
	return events, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- *Event) {
	defer close(events)
	defer stream.Close()

	type building struct {
		id, name string
		args     strings.Builder
		started  bool
	}
	calls := make(map[int]*building)

	flush := func() {
		for i := 0; i < len(calls); i++ {
			b, ok := calls[i]
			if !ok || b.id == "" || b.name == "" {
				continue
			}
			events <- &Event{
				Type:         EventToolCallEnd,
				ToolCallID:   b.id,
				ToolCallName: b.name,
				ToolCall:     &ToolCall{ID: b.id, Name: b.name, Arguments: parseToolArguments(b.args.String())},
			}
		}
		calls = make(map[int]*building)
	}

	var outputTokens int
	for {
		select {
		case <-ctx.Done():
			events <- &Event{Type: EventError, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				events <- &Event{Type: EventDone, Usage: Usage{OutputTokens: outputTokens, TotalTokens: outputTokens}, StopReason: StopEndTurn}
				return
			}
			events <- &Event{Type: EventError, Err: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			outputTokens++
			events <- &Event{Type: EventToken, Token: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := calls[idx]
			if !ok {
				b = &building{}
				calls[idx] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				if !b.started {
					b.started = true
					events <- &Event{Type: EventToolCallStart, ToolCallID: b.id, ToolCallName: b.name}
				}
				b.args.WriteString(tc.Function.Arguments)
			}
		}

		if resp.Choices[0].FinishReason == "tool_calls" {
			flush()
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, oaiMsg)

		default:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if hasImageAttachment(msg.Attachments) {
				oaiMsg.MultiContent = buildVisionParts(msg.Content, msg.Attachments)
			} else {
				oaiMsg.Content = msg.Content
			}
			out = append(out, oaiMsg)
		}
	}
	return out
}

func hasImageAttachment(attachments []Attachment) bool {
	for _, a := range attachments {
		if strings.HasPrefix(a.MimeType, "image/") {
			return true
		}
	}
	return false
}

func buildVisionParts(text string, attachments []Attachment) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.MimeType, "image/") {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: a.URL, Detail: openai.ImageURLDetailAuto},
		})
	}
	return parts
}

func (p *OpenAIProvider) convertTools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
