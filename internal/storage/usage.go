package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// UsageQuotaStore persists per-user periodic usage budgets.
type UsageQuotaStore interface {
	Create(ctx context.Context, quota *models.UsageQuota) error
	Get(ctx context.Context, id string) (*models.UsageQuota, error)
	ForUser(ctx context.Context, userID, kind string) (*models.UsageQuota, error)
	IncrementUsage(ctx context.Context, id string, delta int64) error

	DueUsageQuotas(ctx context.Context, now time.Time) ([]models.UsageQuota, error)
	ResetUsageQuota(ctx context.Context, quotaID string, nextResetAt time.Time) error
}

type cockroachUsageQuotaStore struct {
	db *sql.DB
}

const usageQuotaSelect = `SELECT id, user_id, kind, current_usage, "limit", reset_at, period_seconds FROM usage_quotas`

func (s *cockroachUsageQuotaStore) Create(ctx context.Context, quota *models.UsageQuota) error {
	if quota == nil || quota.ID == "" {
		return fmt.Errorf("quota is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_quotas (id, user_id, kind, current_usage, "limit", reset_at, period_seconds)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		quota.ID, quota.UserID, quota.Kind, quota.CurrentUsage, quota.Limit, quota.ResetAt, int64(quota.Period.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("create usage quota: %w", err)
	}
	return nil
}

func (s *cockroachUsageQuotaStore) Get(ctx context.Context, id string) (*models.UsageQuota, error) {
	return scanUsageQuota(s.db.QueryRowContext(ctx, usageQuotaSelect+` WHERE id = $1`, id))
}

func (s *cockroachUsageQuotaStore) ForUser(ctx context.Context, userID, kind string) (*models.UsageQuota, error) {
	return scanUsageQuota(s.db.QueryRowContext(ctx, usageQuotaSelect+` WHERE user_id = $1 AND kind = $2`, userID, kind))
}

func (s *cockroachUsageQuotaStore) IncrementUsage(ctx context.Context, id string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE usage_quotas SET current_usage = current_usage + $1 WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func (s *cockroachUsageQuotaStore) DueUsageQuotas(ctx context.Context, now time.Time) ([]models.UsageQuota, error) {
	rows, err := s.db.QueryContext(ctx, usageQuotaSelect+` WHERE reset_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("due usage quotas: %w", err)
	}
	defer rows.Close()

	var out []models.UsageQuota
	for rows.Next() {
		q, err := scanUsageQuota(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *cockroachUsageQuotaStore) ResetUsageQuota(ctx context.Context, quotaID string, nextResetAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE usage_quotas SET current_usage = 0, reset_at = $1 WHERE id = $2`, nextResetAt, quotaID)
	if err != nil {
		return fmt.Errorf("reset usage quota: %w", err)
	}
	return nil
}

func scanUsageQuota(row rowScanner) (*models.UsageQuota, error) {
	var q models.UsageQuota
	var periodSeconds int64
	if err := row.Scan(&q.ID, &q.UserID, &q.Kind, &q.CurrentUsage, &q.Limit, &q.ResetAt, &periodSeconds); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan usage quota: %w", err)
	}
	q.Period = time.Duration(periodSeconds) * time.Second
	return &q, nil
}
