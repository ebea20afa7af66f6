package compute

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProvisionHome creates <dataRoot>/<workspaceID>/home owned by the
// in-container workspace uid, ahead of container start.
func ProvisionHome(dataRoot, workspaceID string) (string, error) {
	homeDir := filepath.Join(dataRoot, workspaceID, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return "", fmt.Errorf("compute: provision home %s: %w", homeDir, err)
	}
	if err := os.Chown(homeDir, workspaceUID, workspaceUID); err != nil {
		return "", fmt.Errorf("compute: chown home %s: %w", homeDir, err)
	}
	return homeDir, nil
}

// SetQuota registers (or updates) an XFS project quota of diskGiB on the
// workspace's home directory. Quota updates on a live workspace apply
// without a container restart since they operate on the host filesystem,
// not the container's cgroup.
func SetQuota(dataRoot, workspaceID string, diskGiB int64) error {
	homeDir := filepath.Join(dataRoot, workspaceID, "home")
	projID := projectID(workspaceID)

	if err := runXFSQuota("project", "-s", "-p", homeDir, projID); err != nil {
		return fmt.Errorf("compute: register xfs project %s: %w", projID, err)
	}
	limit := fmt.Sprintf("bhard=%dg", diskGiB)
	if err := runXFSQuota("limit", "-p", "bhard="+limit, projID); err != nil {
		return fmt.Errorf("compute: set xfs quota %s: %w", projID, err)
	}
	return nil
}

// ClearQuota removes the project/projid entries for a workspace being
// cleaned up, without touching the data directory itself.
func ClearQuota(workspaceID string) error {
	projID := projectID(workspaceID)
	if err := runXFSQuota("limit", "-p", "bhard=0", projID); err != nil {
		return fmt.Errorf("compute: clear xfs quota %s: %w", projID, err)
	}
	return nil
}

func projectID(workspaceID string) string {
	return "podex-" + workspaceID
}

// runXFSQuota is overridden in tests; production wiring execs xfs_quota.
var runXFSQuota = func(args ...string) error {
	return execCommand("xfs_quota", append([]string{"-x", "-c"}, args...)...)
}
