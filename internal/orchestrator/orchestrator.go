package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/toolexec"
	"github.com/haasonsaas/nexus/pkg/models"
)

// TaskStore persists tasks across the orchestrator's lifecycle. Satisfied
// structurally by internal/storage's cockroach- and memory-backed task
// stores, which also implement additional methods the reconciler watchdog
// needs.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error
	OlderThan(ctx context.Context, cutoff time.Time, statuses []models.TaskStatus) ([]models.Task, error)
}

// Orchestrator accepts tasks, runs each through the agent loop, caches
// agent instances, and sweeps expired tasks.
type Orchestrator struct {
	tasks  TaskStore
	llm    *llm.Service
	tools  *toolexec.Executor
	schema ToolSchemaCatalog
	memory MemoryRetriever
	cache  *agentCache
	config Config
	logger *slog.Logger

	// running tracks tasks currently executing so Cancel can mark them
	// cancelled without racing a concurrent runTask completing them first.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New wires a TaskStore, LLM service, tool executor, tool schema catalog,
// and agent config store into an Orchestrator. memory and teardown may be
// nil.
func New(
	tasks TaskStore,
	llmSvc *llm.Service,
	tools *toolexec.Executor,
	schema ToolSchemaCatalog,
	agentConfig AgentConfigStore,
	memory MemoryRetriever,
	teardown SessionTeardown,
	config Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.WithDefaults()
	return &Orchestrator{
		tasks:   tasks,
		llm:     llmSvc,
		tools:   tools,
		schema:  schema,
		memory:  memory,
		cache:   newAgentCache(agentConfig, teardown, config.AgentIdleTTL, config.MaxAgents),
		config:  config,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Submit creates a pending task for agentID and runs it to completion in a
// background goroutine, returning the new task's id immediately.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, agentID, message string, taskContext map[string]any) (string, error) {
	task := &models.Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AgentID:   agentID,
		Message:   message,
		Context:   taskContext,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Status:    models.TaskPending,
	}

	inst, err := o.cache.resolve(ctx, agentID, task)
	if err != nil {
		return "", err
	}

	if err := o.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("orchestrator: create task: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.running[task.ID] = cancel
	o.mu.Unlock()

	go o.execute(runCtx, cancel, inst, task)

	return task.ID, nil
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, inst *models.AgentInstance, task *models.Task) {
	defer cancel()
	defer func() {
		o.mu.Lock()
		delete(o.running, task.ID)
		o.mu.Unlock()
	}()

	task.Status = models.TaskRunning
	task.UpdatedAt = time.Now()
	if err := o.tasks.Update(ctx, task); err != nil {
		o.logger.Error("mark task running failed", "error", err, "task_id", task.ID)
	}

	o.runTask(ctx, inst, task)

	if err := o.tasks.Update(ctx, task); err != nil {
		o.logger.Error("persist task result failed", "error", err, "task_id", task.ID)
	}
}

// Status returns the public projection of a task.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (StatusView, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return StatusView{}, ErrTaskNotFound
	}
	return StatusView{
		Status:     task.Status,
		Response:   task.Result,
		ToolCalls:  task.ToolCalls,
		TokensUsed: task.TokensUsed,
		MCPStatus:  task.MCPStatus,
		Error:      task.Error,
	}, nil
}

// Cancel marks a pending or running task cancelled. Fails for a task that
// has already reached a terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		return ErrTaskNotCancellable
	}

	o.mu.Lock()
	if cancel, ok := o.running[taskID]; ok {
		cancel()
	}
	o.mu.Unlock()

	task.Status = models.TaskFailed
	task.Error = "cancelled"
	task.UpdatedAt = time.Now()
	return o.tasks.Update(ctx, task)
}

// CancelAgentTasks cancels every non-terminal task belonging to agentID.
// Since the store has no direct by-agent index here, it scans tasks from
// the far past to now; callers with large task volumes should prefer a
// store-level index when one becomes available.
func (o *Orchestrator) CancelAgentTasks(ctx context.Context, agentID string) (int, error) {
	all, err := o.tasks.OlderThan(ctx, time.Now().Add(time.Hour), []models.TaskStatus{models.TaskPending, models.TaskRunning})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list agent tasks: %w", err)
	}

	var cancelled int
	for i := range all {
		if all[i].AgentID != agentID {
			continue
		}
		if err := o.Cancel(ctx, all[i].ID); err != nil && !errors.Is(err, ErrTaskNotCancellable) {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// Delegate fans one description out to every target, submitting one task
// per target against the same session and returning the resulting task ids
// in target order.
func (o *Orchestrator) Delegate(ctx context.Context, sessionID, description string, targets []DelegateTarget) ([]string, error) {
	taskIDs := make([]string, 0, len(targets))
	for _, target := range targets {
		id, err := o.Submit(ctx, sessionID, target.ID, description, map[string]any{
			"delegate_role":  target.Role,
			"delegate_model": target.ModelID,
		})
		if err != nil {
			return taskIDs, fmt.Errorf("orchestrator: delegate to %s: %w", target.ID, err)
		}
		taskIDs = append(taskIDs, id)
	}
	return taskIDs, nil
}

// Cleanup removes every in-memory agent and task cached for sessionID and
// closes external connections attached to it.
func (o *Orchestrator) Cleanup(ctx context.Context, sessionID string) {
	o.cache.removeSession(ctx, sessionID)
}

// ResolveApproval passes an approval resolution through to the tool
// executor's approval bus.
func (o *Orchestrator) ResolveApproval(ctx context.Context, resolution models.ApprovalResolution) error {
	return o.tools.ResolveApproval(ctx, resolution)
}

// Sweep runs the periodic task-cleanup pass described by the orchestrator's
// TaskTTL/MaxTasks configuration: completed/failed tasks older than TaskTTL
// are removed, and if the store still holds more than MaxTasks entries the
// oldest completed/failed ones are force-removed until back under the
// limit. Pending/running tasks are never touched.
func (o *Orchestrator) Sweep(ctx context.Context) (removed int, err error) {
	cutoff := time.Now().Add(-o.config.TaskTTL)
	expired, err := o.tasks.OlderThan(ctx, cutoff, []models.TaskStatus{models.TaskCompleted, models.TaskFailed})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: sweep list expired: %w", err)
	}
	for i := range expired {
		if err := o.tasks.Delete(ctx, expired[i].ID); err != nil {
			return removed, fmt.Errorf("orchestrator: sweep delete %s: %w", expired[i].ID, err)
		}
		removed++
	}

	over, err := o.tasks.OlderThan(ctx, time.Now(), []models.TaskStatus{models.TaskCompleted, models.TaskFailed})
	if err != nil {
		return removed, fmt.Errorf("orchestrator: sweep list all terminal: %w", err)
	}
	if len(over) <= o.config.MaxTasks {
		return removed, nil
	}

	sort.Slice(over, func(i, j int) bool { return over[i].CreatedAt.Before(over[j].CreatedAt) })
	excess := len(over) - o.config.MaxTasks
	for i := 0; i < excess; i++ {
		if err := o.tasks.Delete(ctx, over[i].ID); err != nil {
			return removed, fmt.Errorf("orchestrator: sweep force-remove %s: %w", over[i].ID, err)
		}
		removed++
	}
	return removed, nil
}
