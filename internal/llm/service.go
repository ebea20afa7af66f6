package llm

import (
	"context"
	"log/slog"
)

// UsageRecord is published after a completion that carried a user id, for
// quota and billing accounting downstream.
type UsageRecord struct {
	UserID      string
	SessionID   string
	WorkspaceID string
	AgentID     string
	Provider    string
	Model       string
	Usage       Usage
}

// UsagePublisher records a completed request's token usage. Implementations
// typically write to the external relational store's usage table.
type UsagePublisher interface {
	PublishUsage(ctx context.Context, record UsageRecord) error
}

// Service is the entrypoint the orchestrator calls: it resolves a Request
// to a Provider via the Registry, normalizes the model alias, invokes the
// provider, and publishes usage accounting on completion.
type Service struct {
	Registry  *Registry
	Publisher UsagePublisher
	Logger    *slog.Logger
}

// NewService wires a Registry and optional UsagePublisher into a Service.
// A nil Publisher disables usage publication (e.g. in tests).
func NewService(registry *Registry, publisher UsagePublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Registry: registry, Publisher: publisher, Logger: logger}
}

// Complete resolves req to a provider, performs a non-streaming completion,
// and publishes a usage record when req.UserID is set.
func (s *Service) Complete(ctx context.Context, req *Request) (*Result, error) {
	req.Model = ResolveModel(req.Model)
	resolved, err := s.Registry.Resolve(req)
	if err != nil {
		return nil, err
	}

	withKey := *req
	if resolved.APIKey != "" {
		if withKey.UserAPIKeys == nil {
			withKey.UserAPIKeys = map[string]string{}
		}
	}

	result, err := resolved.Provider.Complete(ctx, &withKey)
	if err != nil {
		return nil, err
	}
	result.Usage.Source = resolved.Source

	s.publishUsage(ctx, req, resolved, result.Usage)
	return result, nil
}

// Stream resolves req to a provider and performs a streaming completion.
// The usage record is published once the terminal EventDone or EventError
// is observed by the caller draining the returned channel; callers that
// need the record must call PublishFromEvent on the terminal event
// themselves, since Stream cannot block on channel drain.
func (s *Service) Stream(ctx context.Context, req *Request) (<-chan *Event, error) {
	req.Model = ResolveModel(req.Model)
	resolved, err := s.Registry.Resolve(req)
	if err != nil {
		return nil, err
	}

	upstream, err := resolved.Provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		for event := range upstream {
			if event.Type == EventDone {
				event.Usage.Source = resolved.Source
				s.publishUsage(ctx, req, resolved, event.Usage)
			}
			out <- event
		}
	}()
	return out, nil
}

func (s *Service) publishUsage(ctx context.Context, req *Request, resolved *Resolved, usage Usage) {
	if s.Publisher == nil || req.UserID == "" {
		return
	}
	record := UsageRecord{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Provider:    resolved.Provider.Name(),
		Model:       req.Model,
		Usage:       usage,
	}
	if err := s.Publisher.PublishUsage(ctx, record); err != nil {
		s.Logger.Error("publish usage record failed", "error", err, "user_id", req.UserID, "provider", record.Provider)
	}
}
