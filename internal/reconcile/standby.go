package reconcile

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultStandbyTimeout is used when neither a session override nor a user
// default is configured.
const DefaultStandbyTimeout = 60 * time.Minute

// StandbyInterval is the fixed cadence of the standby reconciler.
const StandbyInterval = 60 * time.Second

// WorkspaceStore is the subset of the external relational store the
// standby, provision, health, and cleanup reconcilers need.
type WorkspaceStore interface {
	RunningWorkspaces(ctx context.Context) ([]models.Workspace, error)
	UserDefaultStandbyTimeout(ctx context.Context, userID string) (time.Duration, error)
	// SetStandby transitions a workspace to standby, compare-and-set on the
	// prior status so a concurrent API-initiated change is never clobbered.
	SetStandby(ctx context.Context, workspaceID string, expectStatus models.WorkspaceStatus, standbyAt time.Time) (bool, error)
}

// ContainerStopper stops a workspace's container on its host.
type ContainerStopper interface {
	Stop(ctx context.Context, hostID, containerID string) error
}

// StandbyJob stops a running workspace's container once it has been idle
// longer than its effective timeout (session override > user default >
// DefaultStandbyTimeout), transitioning it to standby.
func StandbyJob(store WorkspaceStore, driver ContainerStopper) Job {
	return Job{
		Name:     "standby",
		Interval: StandbyInterval,
		Run: func(ctx context.Context) (Outcome, error) {
			now := time.Now()
			running, err := store.RunningWorkspaces(ctx)
			if err != nil {
				return Outcome{}, err
			}

			changed := 0
			for _, ws := range running {
				timeout := effectiveStandbyTimeout(ctx, store, ws)
				if now.Sub(ws.LastActivity) < timeout {
					continue
				}

				if err := driver.Stop(ctx, ws.HostID, ws.ContainerID); err != nil {
					continue
				}
				ok, err := store.SetStandby(ctx, ws.ID, models.WorkspaceRunning, now)
				if err != nil || !ok {
					continue
				}
				changed++
			}
			return Outcome{Examined: len(running), Changed: changed}, nil
		},
	}
}

func effectiveStandbyTimeout(ctx context.Context, store WorkspaceStore, ws models.Workspace) time.Duration {
	if ws.StandbyTimeoutOverride > 0 {
		return ws.StandbyTimeoutOverride
	}
	if userDefault, err := store.UserDefaultStandbyTimeout(ctx, ws.OwnerID); err == nil && userDefault > 0 {
		return userDefault
	}
	return DefaultStandbyTimeout
}
