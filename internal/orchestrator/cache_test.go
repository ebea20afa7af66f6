package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeAgentConfigStore struct {
	configs map[string]AgentConfig
}

func (s *fakeAgentConfigStore) AgentConfig(ctx context.Context, agentID string) (AgentConfig, error) {
	if cfg, ok := s.configs[agentID]; ok {
		return cfg, nil
	}
	return AgentConfig{SessionID: "session-" + agentID, Mode: models.ModeAsk}, nil
}

type fakeTeardown struct {
	torn []string
}

func (t *fakeTeardown) TeardownSession(ctx context.Context, sessionID string) error {
	t.torn = append(t.torn, sessionID)
	return nil
}

func TestAgentCacheHydratesOnMiss(t *testing.T) {
	configs := &fakeAgentConfigStore{configs: map[string]AgentConfig{
		"agent-1": {SessionID: "session-1", Role: "coder", ModelID: "sonnet", Mode: models.ModeAuto},
	}}
	cache := newAgentCache(configs, nil, time.Hour, 10)

	inst, err := cache.resolve(context.Background(), "agent-1", &models.Task{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if inst.Role != "coder" || inst.Mode != models.ModeAuto {
		t.Errorf("instance = %+v, want role=coder mode=auto", inst)
	}
}

func TestAgentCacheRefreshesModeAndAllowlistOnHit(t *testing.T) {
	configs := &fakeAgentConfigStore{configs: map[string]AgentConfig{
		"agent-1": {SessionID: "session-1", Mode: models.ModeAsk},
	}}
	cache := newAgentCache(configs, nil, time.Hour, 10)

	ctx := context.Background()
	inst, err := cache.resolve(ctx, "agent-1", &models.Task{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if inst.Mode != models.ModeAsk {
		t.Fatalf("initial mode = %v, want ask", inst.Mode)
	}

	inst.History = append(inst.History, models.Message{Role: models.RoleUser, Content: "hi"})

	task := &models.Task{Context: map[string]any{
		"mode":              string(models.ModeAuto),
		"command_allowlist": []string{"ls"},
	}}
	same, err := cache.resolve(ctx, "agent-1", task)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if same.Mode != models.ModeAuto {
		t.Errorf("mode = %v, want auto after refresh", same.Mode)
	}
	if len(same.CommandAllowlist) != 1 || same.CommandAllowlist[0] != "ls" {
		t.Errorf("allowlist = %v, want [ls]", same.CommandAllowlist)
	}
	if len(same.History) != 1 {
		t.Errorf("history length = %d, want 1 (unchanged across refresh)", len(same.History))
	}
}

func TestAgentCacheEvictsIdleBeforeFailingLimit(t *testing.T) {
	configs := &fakeAgentConfigStore{}
	teardown := &fakeTeardown{}
	cache := newAgentCache(configs, teardown, time.Minute, 1)

	ctx := context.Background()
	idle, err := cache.resolve(ctx, "agent-old", &models.Task{})
	if err != nil {
		t.Fatalf("resolve idle: %v", err)
	}
	idle.LastActivity = time.Now().Add(-time.Hour)

	fresh, err := cache.resolve(ctx, "agent-new", &models.Task{})
	if err != nil {
		t.Fatalf("resolve new after idle eviction: %v", err)
	}
	if fresh.AgentID != "agent-new" {
		t.Errorf("agent id = %s, want agent-new", fresh.AgentID)
	}
	if len(teardown.torn) != 1 || teardown.torn[0] != "session-agent-old" {
		t.Errorf("torn sessions = %v, want [session-agent-old]", teardown.torn)
	}
}

func TestAgentCacheFailsLimitWhenNoIdleEntries(t *testing.T) {
	configs := &fakeAgentConfigStore{}
	cache := newAgentCache(configs, nil, time.Hour, 1)

	ctx := context.Background()
	if _, err := cache.resolve(ctx, "agent-busy", &models.Task{}); err != nil {
		t.Fatalf("resolve first: %v", err)
	}

	_, err := cache.resolve(ctx, "agent-second", &models.Task{})
	if err != ErrAgentLimitExceeded {
		t.Fatalf("err = %v, want ErrAgentLimitExceeded", err)
	}
}

func TestAgentCacheRemoveSessionTearsDownAllMembers(t *testing.T) {
	configs := &fakeAgentConfigStore{configs: map[string]AgentConfig{
		"agent-a": {SessionID: "shared-session"},
		"agent-b": {SessionID: "shared-session"},
	}}
	teardown := &fakeTeardown{}
	cache := newAgentCache(configs, teardown, time.Hour, 10)

	ctx := context.Background()
	if _, err := cache.resolve(ctx, "agent-a", &models.Task{}); err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	if _, err := cache.resolve(ctx, "agent-b", &models.Task{}); err != nil {
		t.Fatalf("resolve b: %v", err)
	}

	cache.removeSession(ctx, "shared-session")

	cache.mu.Lock()
	remaining := len(cache.instances)
	cache.mu.Unlock()
	if remaining != 0 {
		t.Errorf("remaining instances = %d, want 0", remaining)
	}
	if len(teardown.torn) != 1 || teardown.torn[0] != "shared-session" {
		t.Errorf("torn = %v, want [shared-session]", teardown.torn)
	}
}
