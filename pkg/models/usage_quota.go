package models

import "time"

// UsageQuota tracks a user's consumption against a periodic budget (tokens,
// requests, or compute-minutes, depending on QuotaKind) that resets on a
// fixed schedule.
type UsageQuota struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	CurrentUsage int64     `json:"current_usage"`
	Limit        int64     `json:"limit"`
	ResetAt      time.Time `json:"reset_at"`
	Period       time.Duration `json:"period"`
}

// Exceeded reports whether usage has reached the configured limit.
func (q *UsageQuota) Exceeded() bool {
	return q.Limit > 0 && q.CurrentUsage >= q.Limit
}
