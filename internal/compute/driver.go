package compute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"

	"github.com/haasonsaas/nexus/pkg/models"
)

const (
	workspaceLabel = "podex.workspace"
	workspaceUID   = 1000

	gpuRuntime     = "nvidia"
	sandboxRuntime = "runsc"
)

// CreateSpec describes the container a workspace should start with.
type CreateSpec struct {
	WorkspaceID string
	Image       string
	DataRoot    string
	Tier        models.ResourceTier
	HostArch    models.HostArch
	Env         map[string]string
}

// Driver creates, starts, stops, and removes workspace containers on a
// host's Docker daemon, and applies the resource limits a ResourceTier
// describes. All calls here run in the caller's goroutine; callers invoke
// Driver methods from a bounded worker pool since the Docker SDK blocks.
type Driver struct {
	pool *Pool
}

// NewDriver wires a Driver to an existing connection pool.
func NewDriver(pool *Pool) *Driver {
	return &Driver{pool: pool}
}

// imageForArch selects the architecture-specific image tag. GPU workloads
// are always forced to the amd64 variant since CUDA support on arm64 hosts
// is not assumed to exist in the fleet.
func imageForArch(image string, arch models.HostArch, gpu bool) string {
	effective := arch
	if gpu {
		effective = models.ArchAMD64
	}
	if strings.Contains(image, ":") {
		return fmt.Sprintf("%s-%s", image, effective)
	}
	return fmt.Sprintf("%s:%s", image, effective)
}

// CreateContainer creates (but does not start) a workspace container with
// the resource limits, runtime, and mounts spec.Tier implies.
func (d *Driver) CreateContainer(ctx context.Context, hostID string, spec CreateSpec) (string, error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return "", fmt.Errorf("compute: unknown host %q", hostID)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	hostCfg := &container.HostConfig{
		NanoCPUs: int64(spec.Tier.CPUCores * 1e9),
		Memory:   spec.Tier.MemoryMiB * 1024 * 1024,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: fmt.Sprintf("%s/%s/home", spec.DataRoot, spec.WorkspaceID),
				Target: "/home/workspace",
			},
		},
	}

	if spec.Tier.GPUEnabled {
		hostCfg.Runtime = gpuRuntime
		env = append(env,
			"NVIDIA_VISIBLE_DEVICES=all",
			"NVIDIA_DRIVER_CAPABILITIES=compute,utility",
		)
		if spec.Tier.GPUCount > 0 {
			hostCfg.Resources.DeviceRequests = append(hostCfg.Resources.DeviceRequests, container.DeviceRequest{
				Driver:       "nvidia",
				Count:        spec.Tier.GPUCount,
				Capabilities: [][]string{{"gpu"}},
			})
		}
	} else {
		hostCfg.Runtime = sandboxRuntime
	}

	cfg := &container.Config{
		Image: imageForArch(spec.Image, spec.HostArch, spec.Tier.GPUEnabled),
		Env:   env,
		Labels: map[string]string{
			workspaceLabel:      "true",
			"podex.workspace_id": spec.WorkspaceID,
		},
		User:         fmt.Sprintf("%d:%d", workspaceUID, workspaceUID),
		ExposedPorts: nat.PortSet{},
	}

	resp, err := conn.Client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(spec.WorkspaceID))
	if err != nil {
		return "", fmt.Errorf("compute: create container for workspace %s: %w", spec.WorkspaceID, err)
	}
	return resp.ID, nil
}

func containerName(workspaceID string) string {
	return "workspace-" + workspaceID
}

// Start starts an existing container.
func (d *Driver) Start(ctx context.Context, hostID, containerID string) error {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return fmt.Errorf("compute: unknown host %q", hostID)
	}
	if err := conn.Client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return wrapDockerErr(err, "start", containerID)
	}
	return nil
}

// Stop stops a running container with a grace period before SIGKILL.
func (d *Driver) Stop(ctx context.Context, hostID, containerID string) error {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return fmt.Errorf("compute: unknown host %q", hostID)
	}
	timeout := 15
	if err := conn.Client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrapDockerErr(err, "stop", containerID)
	}
	return nil
}

// Remove force-removes a container and its anonymous volumes.
func (d *Driver) Remove(ctx context.Context, hostID, containerID string) error {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return fmt.Errorf("compute: unknown host %q", hostID)
	}
	if err := conn.Client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return wrapDockerErr(err, "remove", containerID)
	}
	return nil
}

// UpdateResources applies a new ResourceTier to a live container without
// restarting it, used for in-place tier scaling.
func (d *Driver) UpdateResources(ctx context.Context, hostID, containerID string, tier models.ResourceTier) error {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return fmt.Errorf("compute: unknown host %q", hostID)
	}
	update := container.UpdateConfig{
		Resources: container.Resources{
			NanoCPUs: int64(tier.CPUCores * 1e9),
			Memory:   tier.MemoryMiB * 1024 * 1024,
		},
	}
	if _, err := conn.Client.ContainerUpdate(ctx, containerID, update); err != nil {
		return wrapDockerErr(err, "update", containerID)
	}
	return nil
}

// Inspect returns the container's PID and running state, used by the
// bandwidth shaper to locate the network namespace.
func (d *Driver) Inspect(ctx context.Context, hostID, containerID string) (pid int, running bool, err error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return 0, false, fmt.Errorf("compute: unknown host %q", hostID)
	}
	info, err := conn.Client.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, false, wrapDockerErr(err, "inspect", containerID)
	}
	if info.State == nil {
		return 0, false, nil
	}
	return info.State.Pid, info.State.Running, nil
}

// IsReconcileSignal reports whether err represents Docker's 404 for a
// container id, the signal that the host has forgotten the workspace
// (§4.4 failure model) rather than a genuine transient failure.
func IsReconcileSignal(err error) bool {
	return err != nil && strings.Contains(err.Error(), "No such container")
}

func wrapDockerErr(err error, op, containerID string) error {
	return fmt.Errorf("compute: %s container %s: %w", op, containerID, err)
}

// execTimeout bounds how long a single exec call blocks before returning
// exit code 124, matching the Compute Client's read-timeout contract.
const execTimeout = 10 * time.Minute
