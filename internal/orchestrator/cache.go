package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// agentCache holds one models.AgentInstance per agent id, evicting idle
// entries under capacity pressure rather than rebuilding conversation
// history on every task.
type agentCache struct {
	mu       sync.Mutex
	config   AgentConfigStore
	teardown SessionTeardown
	idleTTL  time.Duration
	maxSize  int

	instances map[string]*models.AgentInstance
	// bySession tracks which agent ids belong to a session so eviction can
	// detect when a session has zero agents left.
	bySession map[string]map[string]bool
}

func newAgentCache(cfg AgentConfigStore, teardown SessionTeardown, idleTTL time.Duration, maxSize int) *agentCache {
	return &agentCache{
		config:    cfg,
		teardown:  teardown,
		idleTTL:   idleTTL,
		maxSize:   maxSize,
		instances: make(map[string]*models.AgentInstance),
		bySession: make(map[string]map[string]bool),
	}
}

// resolve returns the cached instance for agentID, refreshing its mode and
// command allowlist from task in place, or hydrates a new one from the
// config store on a miss. Returns ErrAgentLimitExceeded if the cache is full
// and idle eviction cannot free a slot.
func (c *agentCache) resolve(ctx context.Context, agentID string, task *models.Task) (*models.AgentInstance, error) {
	now := time.Now()

	c.mu.Lock()
	if inst, ok := c.instances[agentID]; ok {
		c.applyTaskSettings(inst, task)
		inst.Touch(now)
		c.mu.Unlock()
		return inst, nil
	}
	full := len(c.instances) >= c.maxSize
	c.mu.Unlock()

	if full {
		c.evictIdle(ctx, now)
	}

	c.mu.Lock()
	if len(c.instances) >= c.maxSize {
		c.mu.Unlock()
		return nil, ErrAgentLimitExceeded
	}
	c.mu.Unlock()

	cfg, err := c.config.AgentConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}

	inst := &models.AgentInstance{
		AgentID:     agentID,
		SessionID:   cfg.SessionID,
		Role:        cfg.Role,
		ModelID:     cfg.ModelID,
		Mode:        cfg.Mode,
		ToolSet:     cfg.ToolSet,
		WorkspaceID: cfg.WorkspaceID,
	}
	c.applyTaskSettings(inst, task)
	inst.Touch(now)

	c.mu.Lock()
	c.instances[agentID] = inst
	if c.bySession[inst.SessionID] == nil {
		c.bySession[inst.SessionID] = make(map[string]bool)
	}
	c.bySession[inst.SessionID][agentID] = true
	c.mu.Unlock()

	return inst, nil
}

// applyTaskSettings refreshes the settings a task carries in its context
// without touching accumulated history. Mode and allowlist changes made
// through the API layer land here on the next task for that agent.
func (c *agentCache) applyTaskSettings(inst *models.AgentInstance, task *models.Task) {
	if task == nil || task.Context == nil {
		return
	}
	if mode, ok := task.Context["mode"].(string); ok && models.AgentMode(mode).Valid() {
		inst.Mode = models.AgentMode(mode)
	}
	if allowlist, ok := task.Context["command_allowlist"].([]string); ok {
		inst.CommandAllowlist = allowlist
	}
}

// evictIdle removes every cached instance whose last activity is older than
// idleTTL, tearing down any session left with zero agents afterward.
func (c *agentCache) evictIdle(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var emptiedSessions []string
	for id, inst := range c.instances {
		if now.Sub(inst.LastActivity) <= c.idleTTL {
			continue
		}
		delete(c.instances, id)
		sessionID := inst.SessionID
		if members := c.bySession[sessionID]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(c.bySession, sessionID)
				emptiedSessions = append(emptiedSessions, sessionID)
			}
		}
	}
	c.mu.Unlock()

	if c.teardown == nil {
		return
	}
	for _, sessionID := range emptiedSessions {
		_ = c.teardown.TeardownSession(ctx, sessionID)
	}
}

// removeAgent drops agentID from the cache unconditionally, used by
// CancelAgentTasks-adjacent cleanup and session teardown.
func (c *agentCache) removeAgent(ctx context.Context, agentID string) {
	c.mu.Lock()
	inst, ok := c.instances[agentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.instances, agentID)
	sessionEmptied := false
	sessionID := inst.SessionID
	if members := c.bySession[sessionID]; members != nil {
		delete(members, agentID)
		if len(members) == 0 {
			delete(c.bySession, sessionID)
			sessionEmptied = true
		}
	}
	c.mu.Unlock()

	if sessionEmptied && c.teardown != nil {
		_ = c.teardown.TeardownSession(ctx, sessionID)
	}
}

// removeSession drops every agent cached for sessionID and tears it down.
func (c *agentCache) removeSession(ctx context.Context, sessionID string) {
	c.mu.Lock()
	members := c.bySession[sessionID]
	for id := range members {
		delete(c.instances, id)
	}
	delete(c.bySession, sessionID)
	c.mu.Unlock()

	if c.teardown != nil {
		_ = c.teardown.TeardownSession(ctx, sessionID)
	}
}
