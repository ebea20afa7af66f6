package models

import (
	"encoding/json"
	"time"
)

// ApprovalActionType classifies the kind of action an approval request gates.
type ApprovalActionType string

const (
	ActionFileWrite      ApprovalActionType = "file_write"
	ActionCommandExecute ApprovalActionType = "command_execute"
	ActionOther          ApprovalActionType = "other"
)

// ToolApprovalRequest is a pending out-of-band user confirmation for a gated
// tool call. Exactly one resolution is honored per id; later resolutions are
// dropped (see internal/toolexec).
type ToolApprovalRequest struct {
	ID         string             `json:"id"`
	AgentID    string             `json:"agent_id"`
	SessionID  string             `json:"session_id"`
	ToolName   string             `json:"tool_name"`
	ActionType ApprovalActionType `json:"action_type"`
	Arguments  json.RawMessage    `json:"arguments,omitempty"`
	MayAllow   bool               `json:"may_add_to_allowlist"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ApprovalResolution is published on the approval bus to resolve a request.
type ApprovalResolution struct {
	ApprovalID      string `json:"approval_id"`
	Approved        bool   `json:"approved"`
	AddToAllowlist  bool   `json:"add_to_allowlist"`
	ResolvedAt      time.Time
}
