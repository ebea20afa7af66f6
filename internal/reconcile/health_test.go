package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

type flakyProber struct {
	failFor map[string]bool
}

func (p *flakyProber) Probe(ctx context.Context, hostID, containerID string) error {
	if p.failFor[containerID] {
		return errors.New("probe failed")
	}
	return nil
}

func TestHealthJobTransitionsAfterConsecutiveFailures(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:           "ws-unhealthy",
		SessionID:    "session-1",
		HostID:       "host-1",
		ContainerID:  "container-unhealthy",
		Status:       models.WorkspaceRunning,
		LastActivity: time.Now().Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	prober := &flakyProber{failFor: map[string]bool{"container-unhealthy": true}}
	broadcaster := &stubBroadcaster{}
	job := reconcile.HealthJob(store, store, prober, broadcaster, time.Second, 3)

	for i := 0; i < 2; i++ {
		outcome, err := job.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if outcome.Changed != 0 {
			t.Fatalf("run %d: changed = %d, want 0 before threshold", i, outcome.Changed)
		}
	}

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("final run: %v", err)
	}
	if outcome.Changed != 1 {
		t.Fatalf("final run: changed = %d, want 1 at threshold", outcome.Changed)
	}

	ws, err := store.Get(context.Background(), "ws-unhealthy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ws.Status != models.WorkspaceError {
		t.Errorf("status = %v, want error", ws.Status)
	}
}

func TestHealthJobSkipsRecentlyActiveWorkspace(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:           "ws-active",
		HostID:       "host-1",
		ContainerID:  "container-active",
		Status:       models.WorkspaceRunning,
		LastActivity: time.Now(),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	prober := &flakyProber{failFor: map[string]bool{"container-active": true}}
	job := reconcile.HealthJob(store, store, prober, &stubBroadcaster{}, time.Second, 1)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Examined != 0 {
		t.Fatalf("examined = %d, want 0 since workspace is idle-threshold-exempt", outcome.Examined)
	}
}
