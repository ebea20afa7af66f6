package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/pkg/models"
)

// TaskStore persists orchestrator tasks and answers the watchdog's query
// for agents stuck mid-task.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error
	OlderThan(ctx context.Context, cutoff time.Time, statuses []models.TaskStatus) ([]models.Task, error)

	// StuckRunningAgents and MarkAgentError satisfy internal/reconcile's
	// AgentStatusStore.
	StuckRunningAgents(ctx context.Context, olderThan time.Duration) ([]reconcile.StuckAgent, error)
	MarkAgentError(ctx context.Context, agentID string) error
}

type cockroachTaskStore struct {
	db *sql.DB
}

const taskSelect = `SELECT id, session_id, agent_id, message, context, created_at,
	status, result, tool_calls, error, tokens_input, tokens_output, tokens_total, mcp_status, updated_at
	FROM tasks`

func (s *cockroachTaskStore) Create(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	ctxBytes, err := json.Marshal(task.Context)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}
	toolCalls, err := json.Marshal(task.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, session_id, agent_id, message, context, created_at,
		  status, result, tool_calls, error, tokens_input, tokens_output, tokens_total, mcp_status, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		task.ID, task.SessionID, task.AgentID, task.Message, ctxBytes, task.CreatedAt,
		string(task.Status), task.Result, toolCalls, task.Error,
		task.TokensUsed.Input, task.TokensUsed.Output, task.TokensUsed.Total,
		[]byte(task.MCPStatus), task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *cockroachTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE id = $1`, id))
}

func (s *cockroachTaskStore) Update(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	toolCalls, err := json.Marshal(task.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, result = $2, tool_calls = $3, error = $4,
		  tokens_input = $5, tokens_output = $6, tokens_total = $7, mcp_status = $8, updated_at = $9
		 WHERE id = $10`,
		string(task.Status), task.Result, toolCalls, task.Error,
		task.TokensUsed.Input, task.TokensUsed.Output, task.TokensUsed.Total,
		[]byte(task.MCPStatus), task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *cockroachTaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *cockroachTaskStore) OlderThan(ctx context.Context, cutoff time.Time, statuses []models.TaskStatus) ([]models.Task, error) {
	strStatuses := make([]string, len(statuses))
	for i, st := range statuses {
		strStatuses[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE updated_at < $1 AND status = ANY($2) ORDER BY updated_at ASC`,
		cutoff, pq.Array(strStatuses))
	if err != nil {
		return nil, fmt.Errorf("tasks older than: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *cockroachTaskStore) StuckRunningAgents(ctx context.Context, olderThan time.Duration) ([]reconcile.StuckAgent, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id, session_id FROM tasks WHERE status = $1 AND updated_at < $2`,
		string(models.TaskRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("stuck running agents: %w", err)
	}
	defer rows.Close()

	var out []reconcile.StuckAgent
	for rows.Next() {
		var stuck reconcile.StuckAgent
		if err := rows.Scan(&stuck.AgentID, &stuck.SessionID); err != nil {
			return nil, fmt.Errorf("scan stuck agent: %w", err)
		}
		out = append(out, stuck)
	}
	return out, rows.Err()
}

func (s *cockroachTaskStore) MarkAgentError(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, error = $2, updated_at = now() WHERE agent_id = $3 AND status = $4`,
		string(models.TaskFailed), "watchdog: agent exceeded running timeout", agentID, string(models.TaskRunning),
	)
	if err != nil {
		return fmt.Errorf("mark agent error: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status string
	var ctxBytes, toolCallBytes, mcpBytes []byte
	if err := row.Scan(
		&t.ID, &t.SessionID, &t.AgentID, &t.Message, &ctxBytes, &t.CreatedAt,
		&status, &t.Result, &toolCallBytes, &t.Error,
		&t.TokensUsed.Input, &t.TokensUsed.Output, &t.TokensUsed.Total, &mcpBytes, &t.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	if len(ctxBytes) > 0 {
		if err := json.Unmarshal(ctxBytes, &t.Context); err != nil {
			return nil, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	if len(toolCallBytes) > 0 {
		if err := json.Unmarshal(toolCallBytes, &t.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if len(mcpBytes) > 0 {
		t.MCPStatus = json.RawMessage(mcpBytes)
	}
	return &t, nil
}
