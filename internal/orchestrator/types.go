// Package orchestrator accepts tasks, runs each task's agent loop to
// completion against an LLM and tool executor, caches agent instances, and
// drives their periodic cleanup.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrAgentLimitExceeded is returned by Submit when the agent cache is full
// and idle eviction could not free a slot for a new agent.
var ErrAgentLimitExceeded = errors.New("orchestrator: agent_limit_exceeded")

// ErrTaskNotFound is returned when a task id is unknown to the store.
var ErrTaskNotFound = errors.New("orchestrator: task not found")

// ErrTaskNotCancellable is returned by Cancel when the task is already
// terminal.
var ErrTaskNotCancellable = errors.New("orchestrator: task is not pending or running")

// AgentConfigStore resolves the durable configuration for an agent id when
// it is not already cached — role, model, workspace, and starting mode.
type AgentConfigStore interface {
	AgentConfig(ctx context.Context, agentID string) (AgentConfig, error)
}

// AgentConfig is the durable-store projection used to hydrate a fresh
// AgentInstance on a cache miss.
type AgentConfig struct {
	SessionID   string
	Role        string
	ModelID     string
	WorkspaceID string
	Mode        models.AgentMode
	ToolSet     []string
}

// MemoryRetriever fetches recent long-term memory snippets for an agent's
// session. Failures are logged and otherwise ignored by the task loop — this
// step is always best effort.
type MemoryRetriever interface {
	RecentSnippets(ctx context.Context, sessionID string, limit int) ([]string, error)
}

// SessionTeardown releases external state (tool-server connections, and the
// like) attached to a session once its last cached agent is evicted.
type SessionTeardown interface {
	TeardownSession(ctx context.Context, sessionID string) error
}

// Config tunes the orchestrator's limits and timeouts. Zero values fall back
// to the defaults documented on each field.
type Config struct {
	// MaxAgents bounds the number of concurrently cached agent instances.
	// Default: 500.
	MaxAgents int

	// MaxIterations caps the LLM-complete/tool-dispatch loop per task.
	// Default: 10.
	MaxIterations int

	// AgentIdleTTL is how long a cached agent may sit unused before it is
	// eligible for idle eviction. Default: 60 minutes.
	AgentIdleTTL time.Duration

	// TaskTTL is how long a completed/failed task is retained before the
	// cleanup sweep removes it. Default: 1 hour.
	TaskTTL time.Duration

	// MaxTasks bounds total retained tasks; the sweep force-removes the
	// oldest completed/failed entries above this. Default: 10000.
	MaxTasks int

	// MemorySnippetLimit bounds how many long-term memory snippets are
	// retrieved per task. Default: 5.
	MemorySnippetLimit int
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.MaxAgents == 0 {
		c.MaxAgents = 500
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.AgentIdleTTL == 0 {
		c.AgentIdleTTL = 60 * time.Minute
	}
	if c.TaskTTL == 0 {
		c.TaskTTL = time.Hour
	}
	if c.MaxTasks == 0 {
		c.MaxTasks = 10000
	}
	if c.MemorySnippetLimit == 0 {
		c.MemorySnippetLimit = 5
	}
	return c
}

// DelegateTarget names one agent a delegate fan-out dispatches a shared
// description to.
type DelegateTarget struct {
	ID      string
	Role    string
	ModelID string
}

// StatusView is the public projection of a task returned by Status.
type StatusView struct {
	Status     models.TaskStatus
	Response   string
	ToolCalls  []models.ToolCall
	TokensUsed models.Usage
	MCPStatus  []byte
	Error      string
}
