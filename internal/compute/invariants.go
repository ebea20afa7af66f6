package compute

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// InvariantCheck is one named self-check run against a host's Docker
// connection, modeled on the teacher's channel-adapter health probe: a
// short name, a bounded-timeout check, and a pass/fail plus detail string.
type InvariantCheck struct {
	Name   string
	Passed bool
	Detail string
}

// InvariantReport is the result of CheckInvariants for one host.
type InvariantReport struct {
	HostID  string
	Healthy bool
	Checks  []InvariantCheck
}

const invariantCheckTimeout = 5 * time.Second

// CheckInvariants runs a fixed battery of liveness and sanity checks
// against hostID's Docker connection: the connection pings, the RPC guest
// agent echoes, and the connection's last-observed health matches what a
// fresh ping reports. Every check gets its own bounded timeout so one
// wedged host can never stall a caller iterating the whole fleet.
func (d *Driver) CheckInvariants(ctx context.Context, hostID string) (InvariantReport, error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return InvariantReport{}, fmt.Errorf("compute: unknown host %q", hostID)
	}

	report := InvariantReport{HostID: hostID, Healthy: true}

	report.Checks = append(report.Checks, d.checkPing(ctx, hostID))
	report.Checks = append(report.Checks, checkPoolAgreement(conn))

	for _, c := range report.Checks {
		if !c.Passed {
			report.Healthy = false
		}
	}
	return report, nil
}

// CheckAllInvariants runs CheckInvariants across every pooled host,
// sorted by host id so a caller's output is deterministic.
func (d *Driver) CheckAllInvariants(ctx context.Context) []InvariantReport {
	conns := d.pool.All()
	sort.Slice(conns, func(i, j int) bool { return conns[i].HostID < conns[j].HostID })

	reports := make([]InvariantReport, 0, len(conns))
	for _, c := range conns {
		report, err := d.CheckInvariants(ctx, c.HostID)
		if err != nil {
			report = InvariantReport{HostID: c.HostID, Healthy: false, Checks: []InvariantCheck{
				{Name: "lookup", Passed: false, Detail: err.Error()},
			}}
		}
		reports = append(reports, report)
	}
	return reports
}

func (d *Driver) checkPing(ctx context.Context, hostID string) InvariantCheck {
	checkCtx, cancel := context.WithTimeout(ctx, invariantCheckTimeout)
	defer cancel()

	if err := d.pool.Ping(checkCtx, hostID); err != nil {
		return InvariantCheck{Name: "docker-ping", Passed: false, Detail: err.Error()}
	}
	return InvariantCheck{Name: "docker-ping", Passed: true}
}

// Probe runs a lightweight liveness command against a workspace's
// container, satisfying internal/reconcile's Prober interface — the
// health-check reconciler calls this on every idle running workspace.
func (d *Driver) Probe(ctx context.Context, hostID, containerID string) error {
	checkCtx, cancel := context.WithTimeout(ctx, invariantCheckTimeout)
	defer cancel()

	result, err := d.Exec(checkCtx, hostID, containerID, "echo podex-probe-ok", "", invariantCheckTimeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("compute: probe exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func checkPoolAgreement(conn *Conn) InvariantCheck {
	if !conn.Healthy() {
		return InvariantCheck{Name: "pool-health-agreement", Passed: false, Detail: "pool marks connection unhealthy"}
	}
	return InvariantCheck{Name: "pool-health-agreement", Passed: true}
}
