package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Health defaults mirror spec.md §6's env-driven tunables.
const (
	DefaultHealthCheckInterval     = 60 * time.Second
	DefaultUnresponsiveThreshold   = 3
	HealthCheckIdleThreshold       = 5 * time.Minute
)

// Prober runs a lightweight liveness check (e.g. remote `echo`) against a
// workspace's container.
type Prober interface {
	Probe(ctx context.Context, hostID, containerID string) error
}

// WorkspaceErrorStore transitions a workspace to error state.
type WorkspaceErrorStore interface {
	MarkWorkspaceError(ctx context.Context, workspaceID string) error
}

// HealthJob runs a liveness probe against every running workspace idle for
// longer than HealthCheckIdleThreshold, tracking consecutive failures
// in-memory per workspace and transitioning to error once threshold
// failures accumulate. A success resets the counter.
func HealthJob(store WorkspaceStore, errStore WorkspaceErrorStore, prober Prober, broadcaster SessionBroadcaster, interval time.Duration, threshold int) Job {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	if threshold <= 0 {
		threshold = DefaultUnresponsiveThreshold
	}

	var mu sync.Mutex
	failures := make(map[string]int)

	return Job{
		Name:     "container-health-check",
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			now := time.Now()
			running, err := store.RunningWorkspaces(ctx)
			if err != nil {
				return Outcome{}, err
			}

			examined, changed := 0, 0
			for _, ws := range running {
				if now.Sub(ws.LastActivity) < HealthCheckIdleThreshold {
					continue
				}
				examined++

				probeErr := prober.Probe(ctx, ws.HostID, ws.ContainerID)

				mu.Lock()
				if probeErr != nil {
					failures[ws.ID]++
					count := failures[ws.ID]
					mu.Unlock()

					if count >= threshold {
						if err := errStore.MarkWorkspaceError(ctx, ws.ID); err == nil {
							_ = broadcaster.BroadcastAgentStatus(ctx, ws.SessionID, "", string(models.WorkspaceError), false)
							changed++
						}
						mu.Lock()
						delete(failures, ws.ID)
						mu.Unlock()
					}
					continue
				}
				delete(failures, ws.ID)
				mu.Unlock()
			}
			return Outcome{Examined: examined, Changed: changed}, nil
		},
	}
}
