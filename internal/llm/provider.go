// Package llm presents a single complete/stream contract over several LLM
// vendor backends (Anthropic, OpenAI-compatible, a local OpenAI-compatible
// server, and a cloud-hosted Anthropic-via-cloud variant), resolving which
// backend handles a given request, normalizing tool schemas, and recording
// token usage.
package llm

import "context"

// Provider is implemented once per vendor backend. Implementations must be
// safe for concurrent use: multiple goroutines may call Complete or Stream
// simultaneously for different requests.
type Provider interface {
	// Name returns the provider's registry name (e.g. "anthropic", "openai").
	Name() string

	// Models returns the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether the provider accepts tool schemas.
	SupportsTools() bool

	// Complete performs a single non-streaming completion.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Stream performs a completion and emits a sequence of typed events as
	// the response is generated.
	Stream(ctx context.Context, req *Request) (<-chan *Event, error)
}

// Model describes an available model and its capabilities.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

// Message is a single turn in the conversation sent to a provider.
// Role is one of "user", "assistant", "tool".
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Attachments []Attachment
}

// Attachment is an image or file attached to a message for vision-capable
// models.
type Attachment struct {
	MimeType string
	Data     []byte
	URL      string
}

// ToolSchema is the unified shape tools are described in, independent of
// vendor-specific function-calling formats.
type ToolSchema struct {
	Name        string
	Description string
	Schema      []byte // JSON Schema
}

// ToolCall is a vendor-independent tool execution request. Arguments is
// always a parsed JSON object; vendors that return arguments as JSON text
// have it parsed before reaching callers. Malformed JSON becomes an empty
// object and is logged by the provider adapter.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult is the outcome of executing a ToolCall, fed back to the
// provider on the next turn.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// UsageSource classifies which backend served a request, for billing and
// quota accounting.
type UsageSource string

const (
	// UsageIncluded is recorded only when the platform's own cloud backend
	// served the request (no user-supplied API key involved).
	UsageIncluded UsageSource = "included"
	// UsageExternal is recorded when a user-supplied API key was used.
	UsageExternal UsageSource = "external"
	// UsageLocal is recorded when a local inference server served the
	// request.
	UsageLocal UsageSource = "local"
)

// Usage carries token accounting for a single completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Source       UsageSource
}

// StopReason describes why a completion stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Request contains all parameters for a completion request, independent of
// which provider ultimately serves it.
type Request struct {
	// Model is the requested model id or alias. Resolved against
	// ModelAliases before dispatch; see ResolveModel.
	Model string

	System   string
	Messages []Message
	Tools    []ToolSchema

	MaxTokens   int
	Temperature float64

	EnableThinking       bool
	ThinkingBudgetTokens int

	// ProviderHint, if non-empty, forces provider resolution to this name
	// and skips model-id inference (provider resolution rule 1).
	ProviderHint string

	// UserID/SessionID/WorkspaceID/AgentID are optional correlation ids
	// carried through to the published usage record.
	UserID      string
	SessionID   string
	WorkspaceID string
	AgentID     string

	// UserAPIKeys maps provider name to a user-supplied API key. When the
	// resolved provider has an entry here, it is used instead of the
	// platform default key and usage is recorded as UsageExternal
	// (provider resolution rule 3).
	UserAPIKeys map[string]string
}

// Result is the unified, vendor-independent outcome of a non-streaming
// completion.
type Result struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason StopReason
}

// EventType enumerates the streaming event kinds a provider adapter emits.
type EventType string

const (
	EventToken         EventType = "token"
	EventThinking      EventType = "thinking"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is a single typed event in a streaming completion. Incremental
// tool-argument deltas are accumulated per ToolCallID by the adapter until
// EventToolCallEnd is emitted with the final parsed ToolCall.
type Event struct {
	Type EventType

	Token    string // EventToken
	Thinking string // EventThinking

	ToolCallID   string // EventToolCallStart, EventToolCallEnd
	ToolCallName string // EventToolCallStart, EventToolCallEnd
	ToolCall     *ToolCall // EventToolCallEnd

	Usage      Usage      // EventDone
	StopReason StopReason // EventDone

	Err error // EventError
}
