package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/haasonsaas/nexus/internal/authtoken"
	"github.com/haasonsaas/nexus/internal/compute"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/kv"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/internal/toolexec"
	"github.com/haasonsaas/nexus/pkg/models"
)

// app is every wired dependency buildApp assembles, handed to each cobra
// subcommand so serve/submit/doctor all run against the same stack.
type app struct {
	cfg     config.ControlPlaneConfig
	stores  storage.StoreSet
	pool    *compute.Pool
	driver  *compute.Driver
	llmSvc  *llm.Service
	tools   *toolexec.Executor
	tokens  *authtoken.Rotator
	orch    *orchestrator.Orchestrator
	metrics *observability.Metrics
	logger  *slog.Logger
}

// buildApp reads PODEX_* environment configuration and wires every domain
// package into a runnable app: LLM provider registry, tool executor with
// remote-exec and approval bus, the compute driver/pool, the Cockroach-
// backed stores, token issuance, and the orchestrator.
func buildApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg := config.LoadControlPlaneConfig()

	dsn := firstNonEmpty(os.Getenv("PODEX_DATABASE_URL"), os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return nil, fmt.Errorf("PODEX_DATABASE_URL (or DATABASE_URL) is required")
	}

	pool := compute.NewPool()
	driver := compute.NewDriver(pool)

	stores, err := storage.NewCockroachStoresFromDSN(dsn, nil, driver)
	if err != nil {
		return nil, fmt.Errorf("connect stores: %w", err)
	}

	hosts, err := stores.Hosts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	for _, h := range hosts {
		if _, err := pool.Add(compute.HostOpts{HostID: h.ID, Address: h.Address, Arch: string(h.Arch)}); err != nil {
			logger.Warn("failed to dial host, excluding from fleet", "host_id", h.ID, "error", err)
		}
	}

	registry, err := buildLLMRegistry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm registry: %w", err)
	}
	llmSvc := llm.NewService(registry, &usagePublisher{usage: stores.Usage}, logger.With("component", "llm"))

	store, err := buildKVStore()
	if err != nil {
		return nil, fmt.Errorf("build kv store: %w", err)
	}
	approvalBus := toolexec.NewApprovalBus(store, nil)
	tools := toolexec.New(staticCatalog{}, localToolHandlers(), compute.NewClient(driver, stores.Workspaces), approvalBus)

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("PODEX_JWT_SECRET_KEY is required")
	}
	tokenSvc := authtoken.NewService(authtoken.Config{
		Secret:     []byte(cfg.JWTSecretKey),
		AccessTTL:  cfg.AccessTokenExpiry,
		RefreshTTL: cfg.RefreshTokenExpiry,
	})
	revocation := authtoken.NewRevocationStore(store)
	rotator := authtoken.NewRotator(tokenSvc, revocation, noopDeviceSessions{})

	orch := orchestrator.New(
		stores.Tasks,
		llmSvc,
		tools,
		orchestrator.NewStaticToolSchemaCatalog(defaultToolSchemas()),
		&agentConfigAdapter{agents: stores.Agents},
		nil, // MemoryRetriever: long-term memory backend is out of SPEC_FULL's scope for this binary
		nil, // SessionTeardown: no external session hub to notify from this process
		orchestrator.Config{MaxAgents: cfg.MaxAgents, MaxTasks: cfg.MaxTasks, AgentIdleTTL: cfg.AgentIdleTTL, TaskTTL: cfg.TaskTTL},
		logger.With("component", "orchestrator"),
	)

	return &app{
		cfg:     cfg,
		stores:  stores,
		pool:    pool,
		driver:  driver,
		llmSvc:  llmSvc,
		tools:   tools,
		tokens:  rotator,
		orch:    orch,
		metrics: observability.NewMetrics(),
		logger:  logger,
	}, nil
}

// buildLLMRegistry registers a provider for each vendor whose API key (or,
// for Bedrock, AWS credentials) is present in the environment, following
// the teacher's "register what's configured" pattern.
func buildLLMRegistry(ctx context.Context, cfg config.ControlPlaneConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	registry.DefaultProviderName = cfg.LLMProvider

	registered := 0
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
		registered++
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
		registered++
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		p, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:          region,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
		registered++
	}
	if baseURL := os.Getenv("PODEX_LOCAL_LLM_URL"); baseURL != "" {
		p, err := llm.NewLocalProvider(llm.OpenAIConfig{BaseURL: baseURL, DefaultModel: os.Getenv("PODEX_LOCAL_LLM_MODEL")})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
		registry.LocalProviderName = p.Name()
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_REGION, or PODEX_LOCAL_LLM_URL")
	}
	return registry, nil
}

func buildKVStore() (kv.Store, error) {
	if host := os.Getenv("PODEX_REDIS_HOST"); host != "" {
		port := 6379
		if p, err := strconv.Atoi(os.Getenv("PODEX_REDIS_PORT")); err == nil && p > 0 {
			port = p
		}
		return kv.NewRedisStore(kv.RedisConfig{Host: host, Port: port, Password: os.Getenv("PODEX_REDIS_PASSWORD")})
	}
	return kv.NewMemoryStore(), nil
}

// reconcileJobs wires the six periodic reconcilers plus the orchestrator's
// own sweep/idle-eviction passes against the live stores and driver.
func (a *app) reconcileJobs() []reconcile.Job {
	return []reconcile.Job{
		reconcile.ProvisionJob(a.stores.Workspaces, a.stores.Hosts, compute.NewReprovisioner(a.driver, storage.ReprovisionAdapter{Workspaces: a.stores.Workspaces, Hosts: a.stores.Hosts})),
		reconcile.StandbyJob(a.stores.Workspaces, a.driver),
		reconcile.HealthJob(a.stores.Workspaces, a.stores.Workspaces, a.driver, noopBroadcaster{a.logger}, a.cfg.ContainerHealthCheckInterval, a.cfg.ContainerUnresponsiveThreshold),
		reconcile.CleanupJob(a.stores.Workspaces, a.driver, a.cfg.StandbyCleanupInterval, a.cfg.StandbyMaxHoursDefault),
		reconcile.QuotaResetJob(a.stores.Usage),
		reconcile.WatchdogJob(a.stores.Tasks, &agentAborter{orch: a.orch}, noopBroadcaster{a.logger}, a.cfg.AgentWatchdogInterval, a.cfg.AgentTimeoutMinutes),
		a.orch.SweepJob(),
		a.orch.EvictIdleJob(),
	}
}

// agentAborter adapts the orchestrator's cancellation path into
// reconcile.AgentAborter for the watchdog reconciler.
type agentAborter struct {
	orch *orchestrator.Orchestrator
}

func (a *agentAborter) Abort(ctx context.Context, agentID string) error {
	_, err := a.orch.CancelAgentTasks(ctx, agentID)
	return err
}

// noopBroadcaster satisfies reconcile.SessionBroadcaster by logging instead
// of publishing to a websocket hub — this process has no client-facing
// transport of its own (see package doc, no HTTP/WS framing surface).
type noopBroadcaster struct {
	logger *slog.Logger
}

func (b noopBroadcaster) BroadcastAgentStatus(ctx context.Context, sessionID, agentID, status string, autoRecovered bool) error {
	b.logger.Info("agent status change", "session_id", sessionID, "agent_id", agentID, "status", status, "auto_recovered", autoRecovered)
	return nil
}

// noopDeviceSessions satisfies authtoken.DeviceSessionRevoker: this binary
// does not track device sessions, only bearer token lifetime.
type noopDeviceSessions struct{}

func (noopDeviceSessions) RevokeAllDeviceSessions(ctx context.Context, userID string) error {
	return nil
}

// agentConfigAdapter adapts storage.AgentStore into
// orchestrator.AgentConfigStore: an agent's durable row carries role,
// model, and tool set, while session/workspace/mode are layered on from
// the agent's Config bag (set at creation time by whatever issues tasks).
type agentConfigAdapter struct {
	agents storage.AgentStore
}

func (a *agentConfigAdapter) AgentConfig(ctx context.Context, agentID string) (orchestrator.AgentConfig, error) {
	agent, err := a.agents.Get(ctx, agentID)
	if err != nil {
		return orchestrator.AgentConfig{}, err
	}
	cfg := orchestrator.AgentConfig{
		Role:    agent.Name,
		ModelID: agent.Model,
		ToolSet: agent.Tools,
		Mode:    models.ModeAuto,
	}
	if v, ok := agent.Config["session_id"].(string); ok {
		cfg.SessionID = v
	}
	if v, ok := agent.Config["workspace_id"].(string); ok {
		cfg.WorkspaceID = v
	}
	if v, ok := agent.Config["mode"].(string); ok && v != "" {
		cfg.Mode = models.AgentMode(v)
	}
	return cfg, nil
}

// usagePublisher adapts storage.UsageQuotaStore's increment call into
// llm.UsagePublisher, charging a completion's total tokens against the
// user's usage quota as soon as the provider responds.
type usagePublisher struct {
	usage storage.UsageQuotaStore
}

func (p *usagePublisher) PublishUsage(ctx context.Context, record llm.UsageRecord) error {
	if record.UserID == "" {
		return nil
	}
	quota, err := p.usage.ForUser(ctx, record.UserID, "llm_tokens")
	if err != nil {
		return err
	}
	return p.usage.IncrementUsage(ctx, quota.ID, int64(record.Usage.Total))
}

// staticCatalog assigns every tool name a category from a fixed table —
// the control-plane binary has no dynamic tool registry of its own, so
// categories are declared once here rather than loaded from a store.
type staticCatalog struct{}

var toolCategories = map[string]toolexec.Category{
	"read_file":       toolexec.CategoryRead,
	"list_files":      toolexec.CategoryRead,
	"write_file":      toolexec.CategoryWrite,
	"edit_file":       toolexec.CategoryWrite,
	"delete_file":     toolexec.CategoryWrite,
	"run_command":     toolexec.CategoryCommand,
	"git":             toolexec.CategoryGit,
	"recall_memory":   toolexec.CategoryMemory,
	"web_search":      toolexec.CategoryWeb,
	"describe_image":  toolexec.CategoryVision,
	"run_skill":       toolexec.CategorySkill,
	"health_check":    toolexec.CategoryHealth,
	"delegate":        toolexec.CategoryOrchestrator,
	"build_sub_agent": toolexec.CategoryAgentBuilder,
}

func (staticCatalog) CategoryOf(toolName string) (toolexec.Category, bool) {
	c, ok := toolCategories[toolName]
	return c, ok
}

func defaultToolSchemas() []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(toolCategories))
	for name := range toolCategories {
		schemas = append(schemas, llm.ToolSchema{
			Name:        name,
			Description: fmt.Sprintf("%s tool", name),
			Schema:      []byte(`{"type":"object"}`),
		})
	}
	return schemas
}

// localToolHandlers wires the in-process tool categories (memory, web,
// vision, skill, health, orchestrator, agent_builder). Each is a minimal,
// self-contained handler; richer behavior belongs to the services that own
// that concern and is out of this binary's scope.
func localToolHandlers() map[string]toolexec.LocalHandler {
	return map[string]toolexec.LocalHandler{
		"health_check": func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"status":"ok"}`), nil
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
