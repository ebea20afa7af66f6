package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/pkg/models"
)

type memQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]models.UsageQuota
}

func newMemQuotaStore(quotas ...models.UsageQuota) *memQuotaStore {
	s := &memQuotaStore{quotas: make(map[string]models.UsageQuota)}
	for _, q := range quotas {
		s.quotas[q.ID] = q
	}
	return s
}

func (s *memQuotaStore) DueUsageQuotas(ctx context.Context, now time.Time) ([]models.UsageQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UsageQuota
	for _, q := range s.quotas {
		if !q.ResetAt.After(now) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *memQuotaStore) ResetUsageQuota(ctx context.Context, quotaID string, nextResetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotas[quotaID]
	q.CurrentUsage = 0
	q.ResetAt = nextResetAt
	s.quotas[quotaID] = q
	return nil
}

func TestQuotaResetJobResetsDueQuotas(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := newMemQuotaStore(models.UsageQuota{
		ID:           "quota-1",
		UserID:       "user-1",
		CurrentUsage: 500,
		Limit:        1000,
		ResetAt:      past,
		Period:       24 * time.Hour,
	})

	job := reconcile.QuotaResetJob(store)
	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 1 {
		t.Fatalf("changed = %d, want 1", outcome.Changed)
	}

	reset := store.quotas["quota-1"]
	if reset.CurrentUsage != 0 {
		t.Errorf("current usage = %d, want 0", reset.CurrentUsage)
	}
	if !reset.ResetAt.After(past) {
		t.Errorf("reset_at should advance past %v, got %v", past, reset.ResetAt)
	}
}

func TestQuotaResetJobSkipsNotYetDue(t *testing.T) {
	store := newMemQuotaStore(models.UsageQuota{
		ID:      "quota-2",
		ResetAt: time.Now().Add(time.Hour),
	})

	job := reconcile.QuotaResetJob(store)
	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Changed != 0 {
		t.Fatalf("changed = %d, want 0", outcome.Changed)
	}
}
