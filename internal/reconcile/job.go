// Package reconcile runs the periodic control loops that keep workspace
// containers, quota counters, and agent status rows converged with their
// desired state: sleep, do one pass, log, sleep. Every pass is wrapped by a
// shared monitored-job runner so a panic or error in one pass never kills
// the loop, mirroring the teacher's task scheduler ticker pattern.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var errPanicked = errors.New("reconcile: job panicked")

// Job is one named periodic pass. Run performs exactly one reconciliation
// pass and returns the outcome counts to log; an error is logged and
// swallowed, never propagated to the caller.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (Outcome, error)
}

// Outcome is a structured summary of one reconciliation pass, logged
// alongside the job name and duration.
type Outcome struct {
	Examined int
	Changed  int
	Details  map[string]any
}

// Group runs a set of Jobs as long-lived goroutines, each independently
// ticking at its own interval, until Stop cancels and awaits all of them.
type Group struct {
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewGroup wires a logger for every job's pass-completion line.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger.With("component", "reconcile")}
}

// Start launches every job's ticker loop in its own goroutine.
func (g *Group) Start(ctx context.Context, jobs ...Job) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	for _, job := range jobs {
		g.wg.Add(1)
		go g.loop(ctx, job)
	}
}

// Stop cancels every job's context and waits for in-flight passes to
// return before returning itself.
func (g *Group) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Group) loop(ctx context.Context, job Job) {
	defer g.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	g.runPass(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.runPass(ctx, job)
		}
	}
}

func (g *Group) runPass(ctx context.Context, job Job) {
	start := time.Now()
	outcome, err := g.safeRun(ctx, job)
	duration := time.Since(start)

	if err != nil {
		g.logger.Error("reconcile pass failed", "job", job.Name, "error", err, "duration", duration)
		return
	}
	g.logger.Info("reconcile pass complete", "job", job.Name,
		"examined", outcome.Examined, "changed", outcome.Changed, "duration", duration)
}

// safeRun recovers a panic from job.Run so one misbehaving reconciler can
// never take down the process or the other loops in the group.
func (g *Group) safeRun(ctx context.Context, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("reconcile pass panicked", "job", job.Name, "panic", r)
			err = errPanicked
		}
	}()
	return job.Run(ctx)
}
