package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/nexus/internal/compute"
	"github.com/haasonsaas/nexus/pkg/models"
)

// HostStore persists the fleet of workspace hosts and their live capacity.
type HostStore interface {
	Create(ctx context.Context, host *models.Host) error
	Get(ctx context.Context, id string) (*models.Host, error)
	List(ctx context.Context) ([]models.Host, error)
	UpdateCapacity(ctx context.Context, host models.Host) error
	Delete(ctx context.Context, id string) error
	// DataRoot returns the host-local path workspace home directories are
	// bind-mounted from.
	DataRoot(ctx context.Context, hostID string) (string, error)
	// ContainersPresent satisfies internal/reconcile's HostChecker.
	ContainersPresent(ctx context.Context, hostID string, containerIDs []string) (map[string]bool, error)
}

type cockroachHostStore struct {
	db     *sql.DB
	driver *compute.Driver
}

func (s *cockroachHostStore) Create(ctx context.Context, host *models.Host) error {
	if host == nil || host.ID == "" {
		return fmt.Errorf("host is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hosts (id, hostname, address, arch, has_gpu, gpu_type, gpu_count,
		  total_cpu_cores, total_memory_mib, total_disk_gib, health)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		host.ID, host.Hostname, host.Address, string(host.Arch), host.HasGPU, host.GPUType, host.GPUCount,
		host.TotalCPUCores, host.TotalMemoryMiB, host.TotalDiskGiB, string(host.Health),
	)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	return nil
}

const hostSelect = `SELECT id, hostname, address, arch, has_gpu, gpu_type, gpu_count,
	total_cpu_cores, total_memory_mib, total_disk_gib,
	used_cpu_cores, used_memory_mib, used_disk_gib, active_workspaces, health
	FROM hosts`

func (s *cockroachHostStore) Get(ctx context.Context, id string) (*models.Host, error) {
	return scanHost(s.db.QueryRowContext(ctx, hostSelect+` WHERE id = $1`, id))
}

func (s *cockroachHostStore) List(ctx context.Context) ([]models.Host, error) {
	rows, err := s.db.QueryContext(ctx, hostSelect+` ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var out []models.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *cockroachHostStore) UpdateCapacity(ctx context.Context, host models.Host) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET used_cpu_cores = $1, used_memory_mib = $2, used_disk_gib = $3,
		  active_workspaces = $4, health = $5 WHERE id = $6`,
		host.UsedCPUCores, host.UsedMemoryMiB, host.UsedDiskGiB, host.ActiveWorkspaces, string(host.Health), host.ID,
	)
	if err != nil {
		return fmt.Errorf("update host capacity: %w", err)
	}
	return nil
}

func (s *cockroachHostStore) DataRoot(ctx context.Context, hostID string) (string, error) {
	var root string
	err := s.db.QueryRowContext(ctx, `SELECT data_root FROM hosts WHERE id = $1`, hostID).Scan(&root)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("host data root: %w", err)
	}
	return root, nil
}

func (s *cockroachHostStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ContainersPresent satisfies internal/reconcile's HostChecker by asking the
// compute driver to inspect each candidate container on hostID.
func (s *cockroachHostStore) ContainersPresent(ctx context.Context, hostID string, containerIDs []string) (map[string]bool, error) {
	present := make(map[string]bool, len(containerIDs))
	for _, id := range containerIDs {
		if id == "" {
			continue
		}
		_, running, err := s.driver.Inspect(ctx, hostID, id)
		if err != nil {
			if compute.IsReconcileSignal(err) {
				present[id] = false
				continue
			}
			return nil, fmt.Errorf("inspect container %s: %w", id, err)
		}
		present[id] = running
	}
	return present, nil
}

func scanHost(row rowScanner) (*models.Host, error) {
	var h models.Host
	var arch, health string
	if err := row.Scan(
		&h.ID, &h.Hostname, &h.Address, &arch, &h.HasGPU, &h.GPUType, &h.GPUCount,
		&h.TotalCPUCores, &h.TotalMemoryMiB, &h.TotalDiskGiB,
		&h.UsedCPUCores, &h.UsedMemoryMiB, &h.UsedDiskGiB, &h.ActiveWorkspaces, &health,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan host: %w", err)
	}
	h.Arch = models.HostArch(arch)
	h.Health = models.HostHealth(health)
	return &h, nil
}
