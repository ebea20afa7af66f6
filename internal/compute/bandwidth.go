package compute

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

func execCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out)
	}
	return nil
}

// ShapeEgress applies a tbf qdisc on the host-side veth peering with the
// workspace container's network namespace, capping egress at rateMbps in a
// way the workspace user cannot bypass from inside the container. On a
// Docker-in-Docker development host the peer ifindex lookup typically finds
// nothing and this is a no-op; in production it runs against the real host
// network namespace (over SSH when the driver is remote from the host).
func (d *Driver) ShapeEgress(ctx context.Context, hostID, containerID string, rateMbps int64) error {
	pid, running, err := d.Inspect(ctx, hostID, containerID)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("compute: shape egress: container %s is not running", containerID)
	}

	peerIfindex, err := containerPeerIfindex(pid)
	if err != nil {
		return fmt.Errorf("compute: shape egress: %w", err)
	}
	if peerIfindex == "" {
		return nil // dev host, nothing to shape
	}

	vethName, err := hostVethByIfindex(peerIfindex)
	if err != nil {
		return fmt.Errorf("compute: shape egress: %w", err)
	}

	return applyTbfQdisc(vethName, rateMbps)
}

// containerPeerIfindex reads /proc/<pid>/net/route's matching interface and
// then /sys/class/net/<iface>/iflink to resolve the peer (host-side) veth
// ifindex for the container's primary interface.
func containerPeerIfindex(pid int) (string, error) {
	ifaceDir := fmt.Sprintf("/proc/%d/root/sys/class/net", pid)
	entries, err := os.ReadDir(ifaceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		iflinkPath := fmt.Sprintf("%s/%s/iflink", ifaceDir, name)
		raw, err := os.ReadFile(iflinkPath)
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return "", nil
}

// hostVethByIfindex scans the host's /sys/class/net for the veth whose
// ifindex matches peerIfindex.
func hostVethByIfindex(peerIfindex string) (string, error) {
	entries, err := os.ReadDir("/sys/class/net")
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "veth") {
			continue
		}
		raw, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/ifindex", name))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(raw)) == peerIfindex {
			return name, nil
		}
	}
	return "", fmt.Errorf("no host veth matches peer ifindex %s", peerIfindex)
}

// applyTbfQdisc shells out to `tc` to install a token-bucket-filter qdisc
// capping egress on iface at rateMbps. Burst and latency are fixed at
// conservative defaults suitable for a per-workspace cap.
func applyTbfQdisc(iface string, rateMbps int64) error {
	rate := strconv.FormatInt(rateMbps, 10) + "mbit"
	return runTC("qdisc", "replace", "dev", iface, "root", "tbf",
		"rate", rate, "burst", "32kbit", "latency", "400ms")
}

// runTC is overridden in tests; production wiring execs the `tc` binary
// (optionally over SSH when the driver runs off-host).
var runTC = func(args ...string) error {
	return execCommand("tc", args...)
}
