package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ControlPlaneConfig holds the environment-driven settings consumed by the
// runtime control plane: the LLM provider resolution, auth token lifetimes,
// the compute service connection, and the reconciler intervals/thresholds
// from spec.md §6. It is assembled once at startup and passed by value to
// the services that need it (orchestrator, toolexec, compute, reconcile).
type ControlPlaneConfig struct {
	LLMProvider string

	JWTSecretKey          string
	JWTAlgorithm          string
	AccessTokenExpiry     time.Duration
	RefreshTokenExpiry    time.Duration

	ComputeServiceURL      string
	ComputeInternalAPIKey  string

	AgentWatchdogInterval        time.Duration
	AgentTimeoutMinutes          time.Duration
	ContainerHealthCheckInterval time.Duration
	ContainerHealthCheckTimeout  time.Duration
	ContainerUnresponsiveThreshold int

	StandbyCleanupInterval  time.Duration
	StandbyMaxHoursDefault  int

	MaxAgents int
	MaxTasks  int

	AgentIdleTTL time.Duration
	TaskTTL      time.Duration

	CookieSecure   bool
	CookieSameSite string
}

// DefaultControlPlaneConfig returns the documented defaults from spec.md §4
// and §6 before any environment override is applied.
func DefaultControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		LLMProvider: "anthropic",

		JWTAlgorithm:       "HS256",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 30 * 24 * time.Hour,

		AgentWatchdogInterval:         60 * time.Second,
		AgentTimeoutMinutes:           10 * time.Minute,
		ContainerHealthCheckInterval:  60 * time.Second,
		ContainerHealthCheckTimeout:   10 * time.Second,
		ContainerUnresponsiveThreshold: 3,

		StandbyCleanupInterval: time.Hour,
		StandbyMaxHoursDefault: 48,

		MaxAgents: 1000,
		MaxTasks:  10000,

		AgentIdleTTL: 60 * time.Minute,
		TaskTTL:      time.Hour,

		CookieSecure:   true,
		CookieSameSite: "lax",
	}
}

// LoadControlPlaneConfig reads PODEX_* (and the legacy exact names spec.md
// documents) environment variables over the defaults.
func LoadControlPlaneConfig() ControlPlaneConfig {
	cfg := DefaultControlPlaneConfig()
	applyControlPlaneEnv(&cfg)
	return cfg
}

func applyControlPlaneEnv(cfg *ControlPlaneConfig) {
	if cfg == nil {
		return
	}

	if v := firstNonEmptyEnv("PODEX_LLM_PROVIDER", "LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := firstNonEmptyEnv("PODEX_JWT_SECRET_KEY", "JWT_SECRET_KEY"); v != "" {
		cfg.JWTSecretKey = v
	}
	if v := firstNonEmptyEnv("PODEX_JWT_ALGORITHM", "JWT_ALGORITHM"); v != "" {
		cfg.JWTAlgorithm = v
	}
	if v := firstNonEmptyEnv("PODEX_ACCESS_TOKEN_EXPIRE_MINUTES", "ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			cfg.AccessTokenExpiry = time.Duration(minutes) * time.Minute
		}
	}
	if v := firstNonEmptyEnv("PODEX_REFRESH_TOKEN_EXPIRE_DAYS", "REFRESH_TOKEN_EXPIRE_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.RefreshTokenExpiry = time.Duration(days) * 24 * time.Hour
		}
	}
	if v := firstNonEmptyEnv("PODEX_COMPUTE_SERVICE_URL", "COMPUTE_SERVICE_URL"); v != "" {
		cfg.ComputeServiceURL = v
	}
	if v := firstNonEmptyEnv("PODEX_COMPUTE_INTERNAL_API_KEY", "COMPUTE_INTERNAL_API_KEY"); v != "" {
		cfg.ComputeInternalAPIKey = v
	}
	if v := firstNonEmptyEnv("PODEX_AGENT_WATCHDOG_INTERVAL", "AGENT_WATCHDOG_INTERVAL"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.AgentWatchdogInterval = d
		}
	}
	if v := firstNonEmptyEnv("PODEX_AGENT_TIMEOUT_MINUTES", "AGENT_TIMEOUT_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			cfg.AgentTimeoutMinutes = time.Duration(minutes) * time.Minute
		}
	}
	if v := firstNonEmptyEnv("PODEX_CONTAINER_HEALTH_CHECK_INTERVAL", "CONTAINER_HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.ContainerHealthCheckInterval = d
		}
	}
	if v := firstNonEmptyEnv("PODEX_CONTAINER_HEALTH_CHECK_TIMEOUT", "CONTAINER_HEALTH_CHECK_TIMEOUT"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.ContainerHealthCheckTimeout = d
		}
	}
	if v := firstNonEmptyEnv("PODEX_CONTAINER_UNRESPONSIVE_THRESHOLD", "CONTAINER_UNRESPONSIVE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContainerUnresponsiveThreshold = n
		}
	}
	if v := firstNonEmptyEnv("PODEX_STANDBY_CLEANUP_INTERVAL", "STANDBY_CLEANUP_INTERVAL"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil {
			cfg.StandbyCleanupInterval = d
		}
	}
	if v := firstNonEmptyEnv("PODEX_STANDBY_MAX_HOURS_DEFAULT", "STANDBY_MAX_HOURS_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StandbyMaxHoursDefault = n
		}
	}
	if v := firstNonEmptyEnv("PODEX_MAX_AGENTS", "MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAgents = n
		}
	}
	if v := firstNonEmptyEnv("PODEX_MAX_TASKS", "MAX_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTasks = n
		}
	}
	if v := firstNonEmptyEnv("PODEX_AGENT_IDLE_TTL_SECONDS", "AGENT_IDLE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentIdleTTL = time.Duration(n) * time.Second
		}
	}
	if v := firstNonEmptyEnv("PODEX_TASK_TTL_SECONDS", "TASK_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TaskTTL = time.Duration(n) * time.Second
		}
	}
	if v := firstNonEmptyEnv("PODEX_COOKIE_SECURE", "COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := firstNonEmptyEnv("PODEX_COOKIE_SAMESITE", "COOKIE_SAMESITE"); v != "" {
		cfg.CookieSameSite = v
	}
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func parseSecondsOrDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
