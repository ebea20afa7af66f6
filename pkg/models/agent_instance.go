package models

import "time"

// AgentMode is the agent's current permission profile.
type AgentMode string

const (
	ModePlan      AgentMode = "plan"
	ModeAsk       AgentMode = "ask"
	ModeAuto      AgentMode = "auto"
	ModeSovereign AgentMode = "sovereign"
)

// Valid reports whether m is one of the four defined modes.
func (m AgentMode) Valid() bool {
	switch m {
	case ModePlan, ModeAsk, ModeAuto, ModeSovereign:
		return true
	default:
		return false
	}
}

// AgentInstance is a cached, per-process runtime record for one agent id.
// Exactly one instance exists per agent id per process; it is evicted on
// idle timeout or LRU pressure and rebuilt from the external store on the
// next task for that agent.
type AgentInstance struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	ModelID   string `json:"model_id"`

	Mode         AgentMode `json:"mode"`
	PreviousMode AgentMode `json:"previous_mode,omitempty"`

	CommandAllowlist []string  `json:"command_allowlist,omitempty"`
	History          []Message `json:"-"`
	ToolSet          []string  `json:"tool_set,omitempty"`
	WorkspaceID      string    `json:"workspace_id,omitempty"`

	LastActivity time.Time `json:"last_activity"`
}

// Touch refreshes the last-activity timestamp used by idle eviction.
func (a *AgentInstance) Touch(now time.Time) {
	a.LastActivity = now
}
