package orchestrator

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
)

// TaskSweepInterval is how often SweepJob runs by default.
const TaskSweepInterval = 5 * time.Minute

// AgentIdleEvictInterval is how often EvictIdleJob runs by default.
const AgentIdleEvictInterval = time.Minute

// SweepJob wraps Sweep as a reconcile.Job so it can run alongside the
// compute reconcilers under one reconcile.Group.
func (o *Orchestrator) SweepJob() reconcile.Job {
	return reconcile.Job{
		Name:     "task_sweep",
		Interval: TaskSweepInterval,
		Run: func(ctx context.Context) (reconcile.Outcome, error) {
			removed, err := o.Sweep(ctx)
			if err != nil {
				return reconcile.Outcome{}, err
			}
			return reconcile.Outcome{Examined: removed, Changed: removed}, nil
		},
	}
}

// EvictIdleJob wraps the agent cache's idle-eviction pass as a
// reconcile.Job, run independently of task submission so an agent idles out
// even on a quiet session.
func (o *Orchestrator) EvictIdleJob() reconcile.Job {
	return reconcile.Job{
		Name:     "agent_idle_evict",
		Interval: AgentIdleEvictInterval,
		Run: func(ctx context.Context) (reconcile.Outcome, error) {
			o.cache.mu.Lock()
			before := len(o.cache.instances)
			o.cache.mu.Unlock()

			o.cache.evictIdle(ctx, time.Now())

			o.cache.mu.Lock()
			after := len(o.cache.instances)
			o.cache.mu.Unlock()

			return reconcile.Outcome{Examined: before, Changed: before - after}, nil
		},
	}
}
