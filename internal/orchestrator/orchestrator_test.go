package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/kv"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/toolexec"
	"github.com/haasonsaas/nexus/pkg/models"
)

// scriptedProvider replays a fixed sequence of Results, one per Complete
// call, simulating a multi-turn tool-use conversation.
type scriptedProvider struct {
	mu     sync.Mutex
	script []*llm.Result
	calls  int
}

func (p *scriptedProvider) Name() string          { return "fake" }
func (p *scriptedProvider) Models() []llm.Model    { return nil }
func (p *scriptedProvider) SupportsTools() bool    { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.script) {
		return &llm.Result{Content: "done.", StopReason: llm.StopEndTurn}, nil
	}
	r := p.script[p.calls]
	p.calls++
	return r, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.Event, error) {
	return nil, nil
}

type staticCatalog struct{}

func (staticCatalog) CategoryOf(toolName string) (toolexec.Category, bool) {
	return toolexec.CategoryMemory, true
}

type testConfigStore struct{}

func (testConfigStore) AgentConfig(ctx context.Context, agentID string) (orchestrator.AgentConfig, error) {
	return orchestrator.AgentConfig{SessionID: "session-1", Role: "assistant", ModelID: "test-model", Mode: models.ModeAuto}, nil
}

func newEchoService(script []*llm.Result) *llm.Service {
	registry := llm.NewRegistry()
	provider := &scriptedProvider{script: script}
	registry.Register(provider)
	registry.DefaultProviderName = "fake"
	return llm.NewService(registry, nil, nil)
}

func newTestExecutor() *toolexec.Executor {
	handlers := map[string]toolexec.LocalHandler{
		"lookup": func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"result":"found it"}`), nil
		},
	}
	bus := toolexec.NewApprovalBus(kv.NewMemoryStore(), nil)
	return toolexec.New(staticCatalog{}, handlers, nil, bus)
}

func TestSubmitRunsToolCallThenCompletes(t *testing.T) {
	toolCall := llm.ToolCall{ID: "call-1", Name: "lookup", Arguments: map[string]any{"q": "weather"}}
	svc := newEchoService([]*llm.Result{
		{ToolCalls: []llm.ToolCall{toolCall}, StopReason: llm.StopToolUse},
		{Content: "The weather is sunny. Done.", StopReason: llm.StopEndTurn, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
	})

	orch := orchestrator.New(
		newMemTaskStore(),
		svc,
		newTestExecutor(),
		orchestrator.NewStaticToolSchemaCatalog(nil),
		testConfigStore{},
		nil, nil,
		orchestrator.Config{MaxIterations: 5},
		nil,
	)

	taskID, err := orch.Submit(context.Background(), "session-1", "agent-1", "what's the weather?", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status := waitForTerminal(t, orch, taskID)
	if status.Status != models.TaskCompleted {
		t.Fatalf("status = %+v, want completed", status)
	}
	if status.Response == "" {
		t.Error("expected non-empty response")
	}
	if len(status.ToolCalls) != 1 || status.ToolCalls[0].Name != "lookup" {
		t.Errorf("tool calls = %+v", status.ToolCalls)
	}
	if status.TokensUsed.Total != 15 {
		t.Errorf("tokens used = %+v, want total 15", status.TokensUsed)
	}
}

func TestSubmitFailsWhenIterationCapExceeded(t *testing.T) {
	loop := llm.Result{
		ToolCalls:  []llm.ToolCall{{ID: "x", Name: "lookup", Arguments: map[string]any{}}},
		StopReason: llm.StopToolUse,
	}
	svc := newEchoService([]*llm.Result{&loop, &loop, &loop})

	orch := orchestrator.New(
		newMemTaskStore(),
		svc,
		newTestExecutor(),
		orchestrator.NewStaticToolSchemaCatalog(nil),
		testConfigStore{},
		nil, nil,
		orchestrator.Config{MaxIterations: 2},
		nil,
	)

	taskID, err := orch.Submit(context.Background(), "session-1", "agent-1", "loop forever", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status := waitForTerminal(t, orch, taskID)
	if status.Status != models.TaskFailed {
		t.Fatalf("status = %+v, want failed", status)
	}
	if status.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestCancelRejectsTerminalTask(t *testing.T) {
	svc := newEchoService([]*llm.Result{{Content: "done.", StopReason: llm.StopEndTurn}})
	orch := orchestrator.New(
		newMemTaskStore(), svc, newTestExecutor(),
		orchestrator.NewStaticToolSchemaCatalog(nil), testConfigStore{}, nil, nil,
		orchestrator.Config{}, nil,
	)

	taskID, err := orch.Submit(context.Background(), "session-1", "agent-1", "hello", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForTerminal(t, orch, taskID)

	if err := orch.Cancel(context.Background(), taskID); err != orchestrator.ErrTaskNotCancellable {
		t.Fatalf("cancel err = %v, want ErrTaskNotCancellable", err)
	}
}

func TestDelegateFansOutToEveryTarget(t *testing.T) {
	svc := newEchoService([]*llm.Result{{Content: "done.", StopReason: llm.StopEndTurn}})
	orch := orchestrator.New(
		newMemTaskStore(), svc, newTestExecutor(),
		orchestrator.NewStaticToolSchemaCatalog(nil), testConfigStore{}, nil, nil,
		orchestrator.Config{}, nil,
	)

	ids, err := orch.Delegate(context.Background(), "session-1", "review this PR", []orchestrator.DelegateTarget{
		{ID: "agent-a", Role: "reviewer", ModelID: "sonnet"},
		{ID: "agent-b", Role: "security", ModelID: "opus"},
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("task ids = %v, want 2", ids)
	}
}

func TestSweepRemovesExpiredTerminalTasks(t *testing.T) {
	tasks := newMemTaskStore()
	old := &models.Task{ID: "old", Status: models.TaskCompleted, CreatedAt: time.Now().Add(-2 * time.Hour), UpdatedAt: time.Now().Add(-2 * time.Hour)}
	recent := &models.Task{ID: "recent", Status: models.TaskCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := tasks.Create(context.Background(), old); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := tasks.Create(context.Background(), recent); err != nil {
		t.Fatalf("create recent: %v", err)
	}

	orch := orchestrator.New(
		tasks, nil, nil, orchestrator.NewStaticToolSchemaCatalog(nil), testConfigStore{}, nil, nil,
		orchestrator.Config{TaskTTL: time.Hour},
		nil,
	)

	removed, err := orch.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := tasks.Get(context.Background(), "old"); err != orchestrator.ErrTaskNotFound {
		t.Errorf("old task get err = %v, want ErrTaskNotFound", err)
	}
	if _, err := tasks.Get(context.Background(), "recent"); err != nil {
		t.Errorf("recent task should survive the sweep: %v", err)
	}
}

func waitForTerminal(t *testing.T, orch *orchestrator.Orchestrator, taskID string) orchestrator.StatusView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := orch.Status(context.Background(), taskID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.Status == models.TaskCompleted || status.Status == models.TaskFailed {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return orchestrator.StatusView{}
}
