package reconcile

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultStandbyCleanupInterval and DefaultStandbyMaxHours mirror spec.md
// §6's env-driven tunables. A workspace's StandbyMaxHoursOverride of 0
// disables cleanup for that workspace entirely.
const (
	DefaultStandbyCleanupInterval = time.Hour
	DefaultStandbyMaxHours        = 48
)

// StandbyWorkspaceStore lists standby workspaces and removes their row once
// cleaned up.
type StandbyWorkspaceStore interface {
	StandbyWorkspaces(ctx context.Context) ([]models.Workspace, error)
	ArchiveSession(ctx context.Context, sessionID string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// ContainerRemover deletes a workspace's container from its host.
type ContainerRemover interface {
	Remove(ctx context.Context, hostID, containerID string) error
}

// CleanupJob deletes the container, archives the session, and deletes the
// workspace row for every workspace that has sat in standby longer than
// its effective max-standby horizon (defaultMaxHours, user-overridable,
// 0 disables).
func CleanupJob(store StandbyWorkspaceStore, driver ContainerRemover, interval time.Duration, defaultMaxHours int) Job {
	if interval <= 0 {
		interval = DefaultStandbyCleanupInterval
	}
	if defaultMaxHours <= 0 {
		defaultMaxHours = DefaultStandbyMaxHours
	}

	return Job{
		Name:     "standby-cleanup",
		Interval: interval,
		Run: func(ctx context.Context) (Outcome, error) {
			now := time.Now()
			standby, err := store.StandbyWorkspaces(ctx)
			if err != nil {
				return Outcome{}, err
			}

			changed := 0
			for _, ws := range standby {
				maxHours := defaultMaxHours
				if ws.StandbyMaxHoursOverride != nil {
					maxHours = *ws.StandbyMaxHoursOverride
				}
				if maxHours == 0 {
					continue // 0 disables cleanup for this workspace
				}
				if now.Sub(ws.StandbySince) < time.Duration(maxHours)*time.Hour {
					continue
				}

				if err := driver.Remove(ctx, ws.HostID, ws.ContainerID); err != nil {
					continue
				}
				if err := store.ArchiveSession(ctx, ws.SessionID); err != nil {
					continue
				}
				if err := store.DeleteWorkspace(ctx, ws.ID); err != nil {
					continue
				}
				changed++
			}
			return Outcome{Examined: len(standby), Changed: changed}, nil
		},
	}
}
