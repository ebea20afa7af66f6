package reconcile

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ProvisionInterval is the fixed cadence of the workspace-provision
// reconciler.
const ProvisionInterval = 60 * time.Second

// provisionableStatuses are the workspace states a live session is expected
// to have a host-side container for.
var provisionableStatuses = map[models.WorkspaceStatus]bool{
	models.WorkspaceRunning:  true,
	models.WorkspaceCreating: true,
	models.WorkspacePending:  true,
}

// SessionWorkspaceStore lists the workspaces the provision reconciler must
// reconcile against the fleet.
type SessionWorkspaceStore interface {
	ActiveSessionWorkspaces(ctx context.Context) ([]models.Workspace, error)
}

// HostChecker batch-checks which of a set of container ids are actually
// present on a host, per spec.md's "batch-check with the driver".
type HostChecker interface {
	ContainersPresent(ctx context.Context, hostID string, containerIDs []string) (map[string]bool, error)
}

// Provisioner recreates a workspace's container from its stored config.
type Provisioner interface {
	Provision(ctx context.Context, ws models.Workspace) error
}

// ProvisionJob ensures every active session's workspace in {running,
// creating, pending} actually has a live container on its host, and
// reprovisions from the session's stored config (image, tier, template)
// when the driver has forgotten it. Workspaces present but in an error
// state are left alone — provisioning never papers over a genuine failure.
func ProvisionJob(sessions SessionWorkspaceStore, hosts HostChecker, provisioner Provisioner) Job {
	return Job{
		Name:     "workspace-provision",
		Interval: ProvisionInterval,
		Run: func(ctx context.Context) (Outcome, error) {
			workspaces, err := sessions.ActiveSessionWorkspaces(ctx)
			if err != nil {
				return Outcome{}, err
			}

			byHost := make(map[string][]models.Workspace)
			for _, ws := range workspaces {
				if !provisionableStatuses[ws.Status] {
					continue
				}
				byHost[ws.HostID] = append(byHost[ws.HostID], ws)
			}

			examined, changed := 0, 0
			for hostID, hostWorkspaces := range byHost {
				ids := make([]string, len(hostWorkspaces))
				for i, ws := range hostWorkspaces {
					ids[i] = ws.ContainerID
				}
				present, err := hosts.ContainersPresent(ctx, hostID, ids)
				if err != nil {
					continue
				}

				for _, ws := range hostWorkspaces {
					examined++
					if present[ws.ContainerID] {
						continue
					}
					if err := provisioner.Provision(ctx, ws); err != nil {
						continue
					}
					changed++
				}
			}
			return Outcome{Examined: examined, Changed: changed}, nil
		},
	}
}
