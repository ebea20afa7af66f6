package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// WorkspaceStore persists per-session workspace containers and answers the
// narrow queries the compute reconcilers run against them.
type WorkspaceStore interface {
	Create(ctx context.Context, ws *models.Workspace) error
	Get(ctx context.Context, id string) (*models.Workspace, error)
	Delete(ctx context.Context, id string) error

	RunningWorkspaces(ctx context.Context) ([]models.Workspace, error)
	StandbyWorkspaces(ctx context.Context) ([]models.Workspace, error)
	ActiveSessionWorkspaces(ctx context.Context) ([]models.Workspace, error)
	UserDefaultStandbyTimeout(ctx context.Context, userID string) (time.Duration, error)
	SetStandby(ctx context.Context, workspaceID string, expectStatus models.WorkspaceStatus, standbyAt time.Time) (bool, error)
	MarkWorkspaceError(ctx context.Context, workspaceID string) error
	ArchiveSession(ctx context.Context, sessionID string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error

	// Locate satisfies internal/compute's WorkspaceLocator.
	Locate(ctx context.Context, workspaceID string) (hostID, containerID string, err error)
	// SetContainer records a reprovisioned workspace's new container id.
	SetContainer(ctx context.Context, workspaceID, hostID, containerID string) error
}

type cockroachWorkspaceStore struct {
	db *sql.DB
}

func (s *cockroachWorkspaceStore) Create(ctx context.Context, ws *models.Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("workspace is required")
	}
	tier, err := json.Marshal(ws.Tier)
	if err != nil {
		return fmt.Errorf("marshal tier: %w", err)
	}
	cfg, err := json.Marshal(ws.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspaces
		 (id, session_id, owner_id, host_id, container_id, status, tier, image, template, config,
		  last_activity, standby_since, created_at, standby_timeout_override, standby_max_hours_override)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ws.ID, ws.SessionID, ws.OwnerID, ws.HostID, ws.ContainerID, string(ws.Status), tier,
		ws.Image, ws.Template, cfg, ws.LastActivity, nullTime(ws.StandbySince), ws.CreatedAt,
		int64(ws.StandbyTimeoutOverride), ws.StandbyMaxHoursOverride,
	)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (s *cockroachWorkspaceStore) Get(ctx context.Context, id string) (*models.Workspace, error) {
	row := s.db.QueryRowContext(ctx, workspaceSelect+` WHERE id = $1`, id)
	return scanWorkspace(row)
}

func (s *cockroachWorkspaceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const workspaceSelect = `SELECT id, session_id, owner_id, host_id, container_id, status, tier, image, template,
	config, last_activity, standby_since, created_at, standby_timeout_override, standby_max_hours_override
	FROM workspaces`

func (s *cockroachWorkspaceStore) RunningWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.queryWorkspaces(ctx, workspaceSelect+` WHERE status = $1`, string(models.WorkspaceRunning))
}

func (s *cockroachWorkspaceStore) StandbyWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.queryWorkspaces(ctx, workspaceSelect+` WHERE status = $1`, string(models.WorkspaceStandby))
}

func (s *cockroachWorkspaceStore) ActiveSessionWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.queryWorkspaces(ctx, workspaceSelect+` WHERE status != $1`, string(models.WorkspaceDeleted))
}

func (s *cockroachWorkspaceStore) queryWorkspaces(ctx context.Context, query string, args ...any) ([]models.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

func (s *cockroachWorkspaceStore) UserDefaultStandbyTimeout(ctx context.Context, userID string) (time.Duration, error) {
	var minutes sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT default_standby_timeout_minutes FROM users WHERE id = $1`, userID).Scan(&minutes)
	if err == sql.ErrNoRows || !minutes.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user standby timeout: %w", err)
	}
	return time.Duration(minutes.Int64) * time.Minute, nil
}

func (s *cockroachWorkspaceStore) SetStandby(ctx context.Context, workspaceID string, expectStatus models.WorkspaceStatus, standbyAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET status = $1, standby_since = $2 WHERE id = $3 AND status = $4`,
		string(models.WorkspaceStandby), standbyAt, workspaceID, string(expectStatus),
	)
	if err != nil {
		return false, fmt.Errorf("set standby: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set standby rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *cockroachWorkspaceStore) MarkWorkspaceError(ctx context.Context, workspaceID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workspaces SET status = $1 WHERE id = $2`, string(models.WorkspaceError), workspaceID)
	if err != nil {
		return fmt.Errorf("mark workspace error: %w", err)
	}
	return nil
}

func (s *cockroachWorkspaceStore) ArchiveSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET archived_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

func (s *cockroachWorkspaceStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.Delete(ctx, workspaceID)
}

func (s *cockroachWorkspaceStore) SetContainer(ctx context.Context, workspaceID, hostID, containerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET host_id = $1, container_id = $2, status = $3 WHERE id = $4`,
		hostID, containerID, string(models.WorkspaceRunning), workspaceID,
	)
	if err != nil {
		return fmt.Errorf("set container: %w", err)
	}
	return nil
}

func (s *cockroachWorkspaceStore) Locate(ctx context.Context, workspaceID string) (string, string, error) {
	var hostID, containerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT host_id, container_id FROM workspaces WHERE id = $1`, workspaceID).Scan(&hostID, &containerID)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("locate workspace: %w", err)
	}
	return hostID, containerID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*models.Workspace, error) {
	var ws models.Workspace
	var status string
	var tierBytes, cfgBytes []byte
	var standbySince sql.NullTime
	var standbyTimeoutMinutes int64
	var maxHoursOverride sql.NullInt64

	if err := row.Scan(
		&ws.ID, &ws.SessionID, &ws.OwnerID, &ws.HostID, &ws.ContainerID, &status, &tierBytes,
		&ws.Image, &ws.Template, &cfgBytes, &ws.LastActivity, &standbySince, &ws.CreatedAt,
		&standbyTimeoutMinutes, &maxHoursOverride,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan workspace: %w", err)
	}

	ws.Status = models.WorkspaceStatus(status)
	ws.StandbyTimeoutOverride = time.Duration(standbyTimeoutMinutes)
	if standbySince.Valid {
		ws.StandbySince = standbySince.Time
	}
	if maxHoursOverride.Valid {
		v := int(maxHoursOverride.Int64)
		ws.StandbyMaxHoursOverride = &v
	}
	if len(tierBytes) > 0 {
		if err := json.Unmarshal(tierBytes, &ws.Tier); err != nil {
			return nil, fmt.Errorf("unmarshal tier: %w", err)
		}
	}
	if len(cfgBytes) > 0 {
		if err := json.Unmarshal(cfgBytes, &ws.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &ws, nil
}

// ReprovisionAdapter composes a WorkspaceStore and HostStore into the
// combined interface internal/compute's Reprovisioner needs.
type ReprovisionAdapter struct {
	Workspaces WorkspaceStore
	Hosts      HostStore
}

func (a ReprovisionAdapter) SetContainer(ctx context.Context, workspaceID, hostID, containerID string) error {
	return a.Workspaces.SetContainer(ctx, workspaceID, hostID, containerID)
}

func (a ReprovisionAdapter) DataRoot(ctx context.Context, hostID string) (string, error) {
	return a.Hosts.DataRoot(ctx, hostID)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
