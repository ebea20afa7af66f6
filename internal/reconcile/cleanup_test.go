package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

type stubRemover struct {
	removed []string
}

func (r *stubRemover) Remove(ctx context.Context, hostID, containerID string) error {
	r.removed = append(r.removed, containerID)
	return nil
}

func TestCleanupJobRemovesExpiredStandbyWorkspace(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	if err := store.Create(context.Background(), &models.Workspace{
		ID:           "ws-old",
		SessionID:    "session-old",
		HostID:       "host-1",
		ContainerID:  "container-old",
		Status:       models.WorkspaceStandby,
		StandbySince: time.Now().Add(-72 * time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	remover := &stubRemover{}
	job := reconcile.CleanupJob(store, remover, time.Hour, reconcile.DefaultStandbyMaxHours)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 1 {
		t.Fatalf("changed = %d, want 1", outcome.Changed)
	}
	if len(remover.removed) != 1 || remover.removed[0] != "container-old" {
		t.Fatalf("removed = %v", remover.removed)
	}
	if !store.IsSessionArchived("session-old") {
		t.Error("expected session-old to be archived")
	}
	if _, err := store.Get(context.Background(), "ws-old"); err != storage.ErrNotFound {
		t.Errorf("get after cleanup = %v, want ErrNotFound", err)
	}
}

func TestCleanupJobHonorsZeroOverrideDisablingCleanup(t *testing.T) {
	store := storage.NewMemoryWorkspaceStore()
	zero := 0
	if err := store.Create(context.Background(), &models.Workspace{
		ID:                      "ws-pinned",
		HostID:                  "host-1",
		ContainerID:             "container-pinned",
		Status:                  models.WorkspaceStandby,
		StandbySince:            time.Now().Add(-1000 * time.Hour),
		StandbyMaxHoursOverride: &zero,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	remover := &stubRemover{}
	job := reconcile.CleanupJob(store, remover, time.Hour, reconcile.DefaultStandbyMaxHours)

	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 0 {
		t.Fatalf("changed = %d, want 0 since override disables cleanup", outcome.Changed)
	}
}
