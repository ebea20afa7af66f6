package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

type stubStopper struct {
	stopped []string
}

func (s *stubStopper) Stop(ctx context.Context, hostID, containerID string) error {
	s.stopped = append(s.stopped, containerID)
	return nil
}

func TestStandbyJobStopsIdleWorkspace(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:           "ws-1",
		HostID:       "host-1",
		ContainerID:  "container-1",
		Status:       models.WorkspaceRunning,
		LastActivity: time.Now().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	stopper := &stubStopper{}
	job := reconcile.StandbyJob(store, stopper)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Examined != 1 || outcome.Changed != 1 {
		t.Fatalf("outcome = %+v, want 1 examined, 1 changed", outcome)
	}
	if len(stopper.stopped) != 1 || stopper.stopped[0] != "container-1" {
		t.Fatalf("stopped = %v, want [container-1]", stopper.stopped)
	}

	ws, err := store.Get(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ws.Status != models.WorkspaceStandby {
		t.Errorf("status = %v, want standby", ws.Status)
	}
}

func TestStandbyJobSkipsRecentlyActiveWorkspace(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:           "ws-2",
		HostID:       "host-1",
		ContainerID:  "container-2",
		Status:       models.WorkspaceRunning,
		LastActivity: time.Now(),
	}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	stopper := &stubStopper{}
	job := reconcile.StandbyJob(store, stopper)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 0 {
		t.Fatalf("outcome.Changed = %d, want 0", outcome.Changed)
	}
	if len(stopper.stopped) != 0 {
		t.Fatalf("stopped = %v, want none", stopper.stopped)
	}
}

func TestStandbyJobHonorsSessionOverride(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:                     "ws-3",
		HostID:                 "host-1",
		ContainerID:            "container-3",
		Status:                 models.WorkspaceRunning,
		LastActivity:           time.Now().Add(-90 * time.Minute),
		StandbyTimeoutOverride: 2 * time.Hour,
	}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	stopper := &stubStopper{}
	job := reconcile.StandbyJob(store, stopper)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 0 {
		t.Fatalf("outcome.Changed = %d, want 0 since override (2h) hasn't elapsed", outcome.Changed)
	}
}
