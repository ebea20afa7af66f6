package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ContainerStats is a point-in-time resource snapshot for one workspace
// container.
type ContainerStats struct {
	CPUPercent    float64
	CPULimitCores float64
	MemUsedMiB    int64
	MemLimitMiB   int64
	MemPercent    float64
	NetRxMiB      float64
	NetTxMiB      float64
	DiskReadMiB   float64
	DiskWriteMiB  float64
	UptimeSeconds int64
	CollectedAt   time.Time
}

// sample is the raw counters needed to compute the CPU delta on the next
// observation; a workspace with no prior sample reports CPUPercent 0.
type sample struct {
	cpuTotal    uint64
	systemTotal uint64
	at          time.Time
}

// StatsTracker retains the previous CPU sample per container so
// ContainerStats can report the standard Docker delta-based CPU percentage.
type StatsTracker struct {
	driver *Driver

	mu      sync.Mutex
	samples map[string]sample
}

// NewStatsTracker wires a StatsTracker to a Driver's connection pool.
func NewStatsTracker(driver *Driver) *StatsTracker {
	return &StatsTracker{driver: driver, samples: make(map[string]sample)}
}

// ContainerStats fetches one stats sample and computes rates against the
// previous sample for this container id, if any.
func (t *StatsTracker) ContainerStats(ctx context.Context, hostID, containerID string) (ContainerStats, error) {
	conn, ok := t.driver.pool.Get(hostID)
	if !ok {
		return ContainerStats{}, fmt.Errorf("compute: unknown host %q", hostID)
	}

	resp, err := conn.Client.ContainerStats(ctx, containerID, false)
	if err != nil {
		return ContainerStats{}, wrapDockerErr(err, "stats", containerID)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return ContainerStats{}, fmt.Errorf("compute: decode stats for %s: %w", containerID, err)
	}

	info, err := conn.Client.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerStats{}, wrapDockerErr(err, "inspect", containerID)
	}

	now := time.Now()
	cur := sample{cpuTotal: raw.CPUStats.CPUUsage.TotalUsage, systemTotal: raw.CPUStats.SystemUsage, at: now}

	t.mu.Lock()
	prev, hadPrev := t.samples[containerID]
	t.samples[containerID] = cur
	t.mu.Unlock()

	var cpuPercent float64
	if hadPrev {
		cpuDelta := float64(cur.cpuTotal) - float64(prev.cpuTotal)
		systemDelta := float64(cur.systemTotal) - float64(prev.systemTotal)
		onlineCPUs := float64(raw.CPUStats.OnlineCPUs)
		if onlineCPUs == 0 {
			onlineCPUs = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
		}
		if systemDelta > 0 && cpuDelta >= 0 {
			cpuPercent = (cpuDelta / systemDelta) * onlineCPUs * 100
		}
	}

	var netRx, netTx float64
	for _, iface := range raw.Networks {
		netRx += float64(iface.RxBytes) / (1024 * 1024)
		netTx += float64(iface.TxBytes) / (1024 * 1024)
	}

	var diskRead, diskWrite float64
	for _, entry := range raw.BlkioStats.IoServiceBytesRecursive {
		switch entry.Op {
		case "Read", "read":
			diskRead += float64(entry.Value) / (1024 * 1024)
		case "Write", "write":
			diskWrite += float64(entry.Value) / (1024 * 1024)
		}
	}

	memUsedMiB := int64(raw.MemoryStats.Usage) / (1024 * 1024)
	memLimitMiB := int64(raw.MemoryStats.Limit) / (1024 * 1024)
	var memPercent float64
	if memLimitMiB > 0 {
		memPercent = float64(memUsedMiB) / float64(memLimitMiB) * 100
	}

	var uptime int64
	if info.State != nil {
		if startedAt, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			uptime = int64(now.Sub(startedAt).Seconds())
		}
	}

	var cpuLimitCores float64
	if info.HostConfig != nil && info.HostConfig.NanoCPUs > 0 {
		cpuLimitCores = float64(info.HostConfig.NanoCPUs) / 1e9
	}

	return ContainerStats{
		CPUPercent:    cpuPercent,
		CPULimitCores: cpuLimitCores,
		MemUsedMiB:    memUsedMiB,
		MemLimitMiB:   memLimitMiB,
		MemPercent:    memPercent,
		NetRxMiB:      netRx,
		NetTxMiB:      netTx,
		DiskReadMiB:   diskRead,
		DiskWriteMiB:  diskWrite,
		UptimeSeconds: uptime,
		CollectedAt:   now,
	}, nil
}

// ServerStats summarizes a host's capacity and current reservation, derived
// by summing the resource requests of every container labeled
// podex.workspace=true plus the host's registered totals and GPU labels.
type ServerStats struct {
	TotalCPUCores  float64
	TotalMemoryMiB int64
	TotalDiskGiB   int64
	UsedCPUCores   float64
	UsedMemoryMiB  int64
	UsedDiskGiB    int64

	ActiveWorkspaces int
	HasGPU           bool
	GPUType          string
	GPUCount         int
	Architecture     string
	Status           models.HostHealth
}

// ServerStats lists every podex.workspace container on hostID and sums
// their resource reservations against the host's registered totals.
func (t *StatsTracker) ServerStats(ctx context.Context, hostID string, registered models.Host) (ServerStats, error) {
	conn, ok := t.driver.pool.Get(hostID)
	if !ok {
		return ServerStats{}, fmt.Errorf("compute: unknown host %q", hostID)
	}

	if err := t.driver.pool.Ping(ctx, hostID); err != nil {
		return ServerStats{
			TotalCPUCores:  registered.TotalCPUCores,
			TotalMemoryMiB: registered.TotalMemoryMiB,
			TotalDiskGiB:   registered.TotalDiskGiB,
			Architecture:   string(registered.Arch),
			Status:         models.HostUnhealthy,
		}, nil
	}

	containers, err := conn.Client.ContainerList(ctx, container.ListOptions{
		Filters: workspaceFilter(),
	})
	if err != nil {
		return ServerStats{}, wrapDockerErr(err, "list", hostID)
	}

	stats := ServerStats{
		TotalCPUCores:  registered.TotalCPUCores,
		TotalMemoryMiB: registered.TotalMemoryMiB,
		TotalDiskGiB:   registered.TotalDiskGiB,
		HasGPU:         registered.HasGPU,
		GPUType:        registered.GPUType,
		GPUCount:       registered.GPUCount,
		Architecture:   string(registered.Arch),
		Status:         models.HostHealthy,
	}

	for _, c := range containers {
		info, err := conn.Client.ContainerInspect(ctx, c.ID)
		if err != nil {
			continue
		}
		if info.HostConfig == nil {
			continue
		}
		if info.HostConfig.NanoCPUs > 0 {
			stats.UsedCPUCores += float64(info.HostConfig.NanoCPUs) / 1e9
		}
		stats.UsedMemoryMiB += info.HostConfig.Memory / (1024 * 1024)
		stats.ActiveWorkspaces++
	}

	return stats, nil
}
