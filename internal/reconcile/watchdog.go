package reconcile

import (
	"context"
	"time"
)

// WatchdogDefaults mirror spec.md §6's env-driven tunables.
const (
	DefaultAgentWatchdogInterval = 60 * time.Second
	DefaultAgentTimeout          = 10 * time.Minute
)

// StuckAgent is a running agent whose status hasn't advanced recently
// enough, as reported by AgentStatusStore.
type StuckAgent struct {
	AgentID   string
	SessionID string
}

// AgentStatusStore finds agents stuck in "running" and transitions them.
type AgentStatusStore interface {
	StuckRunningAgents(ctx context.Context, olderThan time.Duration) ([]StuckAgent, error)
	MarkAgentError(ctx context.Context, agentID string) error
}

// AgentAborter asks the owning agent service to abort an in-flight agent,
// best effort: a failure here does not stop the watchdog from still
// transitioning the row to error.
type AgentAborter interface {
	Abort(ctx context.Context, agentID string) error
}

// SessionBroadcaster publishes a session-scoped event, used here to notify
// clients an agent was auto-recovered.
type SessionBroadcaster interface {
	BroadcastAgentStatus(ctx context.Context, sessionID, agentID, status string, autoRecovered bool) error
}

// WatchdogJob finds every agent whose status has been "running" for longer
// than timeout, asks its agent service to abort (best effort), transitions
// it to error, and broadcasts auto_recovered=true on its session.
func WatchdogJob(store AgentStatusStore, aborter AgentAborter, broadcaster SessionBroadcaster, interval, timeout time.Duration) Job {
	if interval <= 0 {
		interval = DefaultAgentWatchdogInterval
	}
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}

	return Job{
		Name:     "agent-watchdog",
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			stuck, err := store.StuckRunningAgents(ctx, timeout)
			if err != nil {
				return Outcome{}, err
			}

			changed := 0
			for _, agent := range stuck {
				_ = aborter.Abort(ctx, agent.AgentID) // best effort; DB transition proceeds regardless

				if err := store.MarkAgentError(ctx, agent.AgentID); err != nil {
					continue
				}
				_ = broadcaster.BroadcastAgentStatus(ctx, agent.SessionID, agent.AgentID, "error", true)
				changed++
			}
			return Outcome{Examined: len(stuck), Changed: changed}, nil
		},
	}
}
