package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
)

type stubAborter struct {
	aborted []string
	err     error
}

func (a *stubAborter) Abort(ctx context.Context, agentID string) error {
	a.aborted = append(a.aborted, agentID)
	return a.err
}

type stubBroadcaster struct {
	broadcasts []string
}

func (b *stubBroadcaster) BroadcastAgentStatus(ctx context.Context, sessionID, agentID, status string, autoRecovered bool) error {
	b.broadcasts = append(b.broadcasts, sessionID+":"+agentID+":"+status)
	return nil
}

func TestWatchdogJobAbortsAndMarksStuckAgents(t *testing.T) {
	store := storage.NewMemoryAgentStatusStore()
	store.SeedStuck(reconcile.StuckAgent{AgentID: "agent-1", SessionID: "session-1"})

	aborter := &stubAborter{err: errAbortFailed}
	broadcaster := &stubBroadcaster{}

	job := reconcile.WatchdogJob(store, aborter, broadcaster, time.Minute, 10*time.Minute)
	outcome, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Examined != 1 || outcome.Changed != 1 {
		t.Fatalf("outcome = %+v, want 1/1", outcome)
	}
	if !store.MarkedError("agent-1") {
		t.Error("expected agent-1 to be marked error even though abort failed")
	}
	if len(broadcaster.broadcasts) != 1 || broadcaster.broadcasts[0] != "session-1:agent-1:error" {
		t.Fatalf("broadcasts = %v", broadcaster.broadcasts)
	}
}

var errAbortFailed = &abortError{}

type abortError struct{}

func (*abortError) Error() string { return "abort failed" }
