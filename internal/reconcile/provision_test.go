package reconcile_test

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

type stubHostChecker struct {
	present map[string]bool
}

func (c *stubHostChecker) ContainersPresent(ctx context.Context, hostID string, containerIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(containerIDs))
	for _, id := range containerIDs {
		out[id] = c.present[id]
	}
	return out, nil
}

type stubProvisioner struct {
	provisioned []string
}

func (p *stubProvisioner) Provision(ctx context.Context, ws models.Workspace) error {
	p.provisioned = append(p.provisioned, ws.ID)
	return nil
}

func TestProvisionJobReprovisionsMissingContainer(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	for _, ws := range []*models.Workspace{
		{ID: "ws-missing", HostID: "host-1", ContainerID: "gone", Status: models.WorkspaceRunning},
		{ID: "ws-present", HostID: "host-1", ContainerID: "alive", Status: models.WorkspaceRunning},
		{ID: "ws-errored", HostID: "host-1", ContainerID: "dead", Status: models.WorkspaceError},
	} {
		if err := store.Create(context.Background(), ws); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	checker := &stubHostChecker{present: map[string]bool{"alive": true}}
	provisioner := &stubProvisioner{}

	job := reconcile.ProvisionJob(store, checker, provisioner)
	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Examined != 2 {
		t.Fatalf("examined = %d, want 2 (errored workspace excluded)", outcome.Examined)
	}
	if outcome.Changed != 1 {
		t.Fatalf("changed = %d, want 1", outcome.Changed)
	}
	if len(provisioner.provisioned) != 1 || provisioner.provisioned[0] != "ws-missing" {
		t.Fatalf("provisioned = %v, want [ws-missing]", provisioner.provisioned)
	}
}
