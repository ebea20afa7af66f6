package reconcile

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// QuotaStore is the subset of the external relational store the quota-reset
// reconciler needs.
type QuotaStore interface {
	DueUsageQuotas(ctx context.Context, now time.Time) ([]models.UsageQuota, error)
	ResetUsageQuota(ctx context.Context, quotaID string, nextResetAt time.Time) error
}

// QuotaResetInterval is the fixed cadence of the quota-reset reconciler.
const QuotaResetInterval = 5 * time.Minute

// QuotaResetJob resets any usage-quota row whose reset_at has passed,
// advancing it by its own period so the next reset lands on schedule.
func QuotaResetJob(store QuotaStore) Job {
	return Job{
		Name:     "quota-reset",
		Interval: QuotaResetInterval,
		Run: func(ctx context.Context) (Outcome, error) {
			now := time.Now()
			due, err := store.DueUsageQuotas(ctx, now)
			if err != nil {
				return Outcome{}, err
			}

			changed := 0
			for _, quota := range due {
				period := quota.Period
				if period <= 0 {
					period = 30 * 24 * time.Hour
				}
				if err := store.ResetUsageQuota(ctx, quota.ID, now.Add(period)); err != nil {
					continue
				}
				changed++
			}
			return Outcome{Examined: len(due), Changed: changed}, nil
		},
	}
}
