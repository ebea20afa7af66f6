package llm

import (
	"fmt"
	"strings"
	"sync"
)

// ModelAliases maps short anthropic aliases to their canonical model ids.
// If a requested model string matches none of these, it is passed through
// unchanged (model-alias mapping rule).
var ModelAliases = map[string]string{
	"opus":   "claude-opus-4-6-20260115",
	"sonnet": "claude-sonnet-4-6-20260115",
	"haiku":  "claude-haiku-4-6-20260115",
}

// ResolveModel expands a short alias to its canonical model id, or returns
// the input unchanged if it isn't a known alias.
func ResolveModel(model string) string {
	if canonical, ok := ModelAliases[strings.ToLower(model)]; ok {
		return canonical
	}
	return model
}

// ResolveProviderName implements provider-resolution rules 1 and 2: an
// explicit hint wins outright; otherwise the provider is inferred from the
// model id's prefix or alias.
func ResolveProviderName(hint, model string) string {
	if hint != "" {
		return hint
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return "anthropic"
	case lower == "opus", lower == "sonnet", lower == "haiku":
		return "anthropic"
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1-"),
		strings.HasPrefix(lower, "o3-"),
		strings.HasPrefix(lower, "chatgpt-"):
		return "openai"
	case strings.HasPrefix(lower, "gemini"):
		return "google"
	default:
		return ""
	}
}

// Registry resolves a Request to the Provider that should serve it,
// following the provider-resolution rules, and determines the usage
// source and API key to use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	// DefaultProviderName is used when a request's provider cannot be
	// determined by hint or model-id inference.
	DefaultProviderName string

	// PlatformProviderName is the platform's own cloud backend: usage is
	// UsageIncluded only when this provider serves the request without a
	// user-supplied key.
	PlatformProviderName string

	// LocalProviderName identifies the local inference server adapter, if
	// registered; usage is UsageLocal when this provider serves a request.
	LocalProviderName string
}

// NewRegistry returns an empty Registry. Register providers with Register
// before resolving requests.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name(). Re-registering a name
// replaces the previous provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Resolved is the outcome of resolving a Request against the registry.
type Resolved struct {
	Provider Provider
	APIKey   string // empty means "use the provider's configured default"
	Source   UsageSource
}

// ErrNoProvider is returned when no provider can be resolved for a request.
type ErrNoProvider struct {
	Hint  string
	Model string
}

func (e *ErrNoProvider) Error() string {
	return fmt.Sprintf("llm: no provider registered for hint=%q model=%q", e.Hint, e.Model)
}

// Resolve applies provider-resolution rules 1-3 and returns the provider
// that should serve req, along with which API key and usage source to
// record.
func (r *Registry) Resolve(req *Request) (*Resolved, error) {
	name := ResolveProviderName(req.ProviderHint, req.Model)
	if name == "" {
		name = r.DefaultProviderName
	}

	r.mu.RLock()
	provider, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrNoProvider{Hint: req.ProviderHint, Model: req.Model}
	}

	resolved := &Resolved{Provider: provider}
	if key, ok := req.UserAPIKeys[name]; ok && key != "" {
		resolved.APIKey = key
		resolved.Source = UsageExternal
		return resolved, nil
	}

	switch name {
	case r.PlatformProviderName:
		resolved.Source = UsageIncluded
	case r.LocalProviderName:
		resolved.Source = UsageLocal
	default:
		resolved.Source = UsageExternal
	}
	return resolved, nil
}
