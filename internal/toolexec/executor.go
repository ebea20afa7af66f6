package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	execsafety "github.com/haasonsaas/nexus/internal/exec"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Result is the JSON-encoded object every tool call returns, carrying at
// minimum {"success": bool}.
type Result struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	BlockedByMode    bool   `json:"blocked_by_mode,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
	Content          string `json:"content,omitempty"`
}

func (r Result) JSON() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(`{"success":false,"error":"result encoding failed"}`)
	}
	return b
}

func failure(err error) Result { return Result{Success: false, Error: err.Error()} }
func blocked() Result          { return Result{Success: false, Error: "blocked by current mode", BlockedByMode: true} }
func notApproved() Result      { return Result{Success: false, Error: "not approved", RequiresApproval: true} }

// Catalog resolves a tool name to its dispatch category. Implementations
// load categories from a shared configuration store, memoized per process
// behind a single initializer; the executor never hardcodes category
// membership.
type Catalog interface {
	CategoryOf(toolName string) (Category, bool)
}

// LocalHandler executes an in-process tool (memory, skill, web, vision,
// deploy, health, orchestrator, agent_builder categories).
type LocalHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// RemoteExecClient is the façade into a workspace container for write,
// command, git, and filesystem tool categories. Implemented by
// internal/compute's Driver-backed client.
type RemoteExecClient interface {
	Dispatch(ctx context.Context, workspaceID, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// remoteCategories are dispatched through RemoteExecClient rather than a
// LocalHandler, and require the agent to have a workspace configured.
var remoteCategories = map[Category]bool{
	CategoryWrite:   true,
	CategoryCommand: true,
	CategoryGit:     true,
}

// Executor dispatches a named tool call, enforcing mode policy and
// approval, and routes remote-exec categories to the workspace container.
type Executor struct {
	catalog  Catalog
	handlers map[string]LocalHandler
	remote   RemoteExecClient
	approval *ApprovalBus
}

// New wires a Catalog, the local tool handler set, the remote-exec client,
// and the approval bus into an Executor.
func New(catalog Catalog, handlers map[string]LocalHandler, remote RemoteExecClient, approval *ApprovalBus) *Executor {
	return &Executor{catalog: catalog, handlers: handlers, remote: remote, approval: approval}
}

// ResolveApproval passes an approval resolution through to the executor's
// approval bus, the local fallback path for hosts without pub/sub.
func (e *Executor) ResolveApproval(ctx context.Context, resolution models.ApprovalResolution) error {
	return e.approval.Resolve(ctx, resolution)
}

// Dispatch runs a single tool call for agent, applying mode policy,
// approval, and the remote-exec façade, and always returns a well-formed
// Result — it never returns a Go error for a tool-level failure.
func (e *Executor) Dispatch(ctx context.Context, agent *models.AgentInstance, call models.ToolCall) Result {
	category, ok := e.catalog.CategoryOf(call.Name)
	if !ok {
		return failure(fmt.Errorf("unknown tool %q", call.Name))
	}

	decision := ModeDecision(agent.Mode, category)

	var argsStr string
	if category == CategoryCommand {
		argsStr = commandArgument(call.Input)
		if exe := firstToken(argsStr); exe != "" && !execsafety.IsSafeExecutableValue(exe) {
			return failure(fmt.Errorf("command executable %q failed safety validation", exe))
		}
	}

	if decision == DecisionApproval && category == CategoryCommand && agent.Mode == models.ModeAuto {
		if MatchesAllowlist(agent.CommandAllowlist, argsStr) {
			decision = DecisionAllow
		}
	}

	switch decision {
	case DecisionDeny:
		return blocked()

	case DecisionApproval:
		resolution, err := e.requestApproval(ctx, agent, call)
		if err != nil {
			return failure(err)
		}
		if !resolution.Approved {
			return notApproved()
		}
		if resolution.AddToAllowlist && category == CategoryCommand && IsValidAllowlistPattern(argsStr) {
			agent.CommandAllowlist = append(agent.CommandAllowlist, argsStr)
		}
	}

	return e.execute(ctx, agent, category, call)
}

func (e *Executor) requestApproval(ctx context.Context, agent *models.AgentInstance, call models.ToolCall) (models.ApprovalResolution, error) {
	actionType := models.ActionOther
	switch {
	case isWriteLike(call.Name):
		actionType = models.ActionFileWrite
	case call.Name != "" && call.Input != nil:
		actionType = models.ActionCommandExecute
	}

	req := models.ToolApprovalRequest{
		ID:         uuid.NewString(),
		AgentID:    agent.AgentID,
		SessionID:  agent.SessionID,
		ToolName:   call.Name,
		ActionType: actionType,
		Arguments:  call.Input,
		MayAllow:   true,
	}
	return e.approval.Request(ctx, req)
}

func isWriteLike(toolName string) bool {
	return toolName == "write_file" || toolName == "edit_file" || toolName == "delete_file"
}

func (e *Executor) execute(ctx context.Context, agent *models.AgentInstance, category Category, call models.ToolCall) Result {
	if remoteCategories[category] {
		if agent.WorkspaceID == "" {
			return failure(fmt.Errorf("tool %q requires a workspace, agent has none configured", call.Name))
		}
		out, err := e.remote.Dispatch(ctx, agent.WorkspaceID, call.Name, call.Input)
		if err != nil {
			return failure(err)
		}
		return Result{Success: true, Content: string(out)}
	}

	handler, ok := e.handlers[call.Name]
	if !ok {
		return failure(fmt.Errorf("no local handler registered for tool %q", call.Name))
	}
	out, err := handler(ctx, call.Input)
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Content: string(out)}
}

// firstToken returns the leading whitespace-delimited token of a command
// string — the program name a shell would resolve first — or "" for an
// empty/blank command.
func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func commandArgument(input json.RawMessage) string {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ""
	}
	return payload.Command
}
