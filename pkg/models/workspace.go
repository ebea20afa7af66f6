package models

import "time"

// WorkspaceStatus is the lifecycle state of a workspace.
type WorkspaceStatus string

const (
	WorkspacePending  WorkspaceStatus = "pending"
	WorkspaceCreating WorkspaceStatus = "creating"
	WorkspaceRunning  WorkspaceStatus = "running"
	WorkspaceStandby  WorkspaceStatus = "standby"
	WorkspaceError    WorkspaceStatus = "error"
	WorkspaceDeleted  WorkspaceStatus = "deleted"
)

// ResourceTier describes the resource limits applied to a workspace container.
type ResourceTier struct {
	CPUCores     float64 `json:"cpu_cores"`
	MemoryMiB    int64   `json:"memory_mib"`
	DiskGiB      int64   `json:"disk_gib"`
	BandwidthMbps int64  `json:"bandwidth_mbps"`

	GPUEnabled bool   `json:"gpu_enabled,omitempty"`
	GPUCount   int    `json:"gpu_count,omitempty"`
	GPUType    string `json:"gpu_type,omitempty"`
}

// Workspace is a per-session container with its own filesystem, network, and
// resource limits, living on exactly one host at a time. At most one
// container is live for a given workspace; standby implies the container is
// stopped, running implies it is alive and passing its health check.
type Workspace struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`

	HostID      string `json:"host_id"`
	ContainerID string `json:"container_id,omitempty"`

	Status WorkspaceStatus `json:"status"`
	Tier   ResourceTier    `json:"tier"`

	Image    string         `json:"image,omitempty"`
	Template string         `json:"template,omitempty"`
	Config   map[string]any `json:"config,omitempty"`

	LastActivity time.Time `json:"last_activity"`
	StandbySince time.Time `json:"standby_since,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// StandbyTimeout overrides the default idle-to-standby window for this
	// session (zero means "use the owning user's default").
	StandbyTimeoutOverride time.Duration `json:"standby_timeout_override,omitempty"`
	// StandbyMaxHours overrides the default standby-cleanup horizon; zero
	// disables cleanup for this workspace.
	StandbyMaxHoursOverride *int `json:"standby_max_hours_override,omitempty"`
}

// IsLive reports whether the workspace currently owns a running container.
func (w *Workspace) IsLive() bool {
	return w.Status == WorkspaceRunning
}
