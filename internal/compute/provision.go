package compute

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus/pkg/models"
)

// WorkspaceContainerUpdater persists the new host/container assignment a
// reprovision produces, and the data root a workspace's containers mount
// their home directory from.
type WorkspaceContainerUpdater interface {
	SetContainer(ctx context.Context, workspaceID, hostID, containerID string) error
	DataRoot(ctx context.Context, hostID string) (string, error)
}

// Reprovisioner recreates a workspace's container from its stored config
// when the driver no longer has a record of it, satisfying
// internal/reconcile's Provisioner.
type Reprovisioner struct {
	driver *Driver
	store  WorkspaceContainerUpdater
}

// NewReprovisioner wires a Driver and WorkspaceContainerUpdater into a
// Reprovisioner.
func NewReprovisioner(driver *Driver, store WorkspaceContainerUpdater) *Reprovisioner {
	return &Reprovisioner{driver: driver, store: store}
}

// Provision recreates ws's container on its assigned host from its stored
// image, tier, and template, then starts it and records the new container
// id. The workspace keeps its host assignment; only the container is new.
func (r *Reprovisioner) Provision(ctx context.Context, ws models.Workspace) error {
	dataRoot, err := r.store.DataRoot(ctx, ws.HostID)
	if err != nil {
		return fmt.Errorf("compute: reprovision data root: %w", err)
	}

	conn, ok := r.driver.pool.Get(ws.HostID)
	if !ok {
		return fmt.Errorf("compute: reprovision unknown host %q", ws.HostID)
	}

	containerID, err := r.driver.CreateContainer(ctx, ws.HostID, CreateSpec{
		WorkspaceID: ws.ID,
		Image:       ws.Image,
		DataRoot:    dataRoot,
		Tier:        ws.Tier,
		HostArch:    models.HostArch(conn.Arch),
	})
	if err != nil {
		return fmt.Errorf("compute: reprovision create: %w", err)
	}
	if err := r.driver.Start(ctx, ws.HostID, containerID); err != nil {
		return fmt.Errorf("compute: reprovision start: %w", err)
	}
	if err := r.store.SetContainer(ctx, ws.ID, ws.HostID, containerID); err != nil {
		return fmt.Errorf("compute: reprovision record container: %w", err)
	}
	return nil
}
