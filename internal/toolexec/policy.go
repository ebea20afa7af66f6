// Package toolexec gates every tool call by agent mode, routes write/command/
// git/filesystem tools through the remote-exec façade to a workspace
// container, runs the remaining tool categories in-process, and mediates
// user approval over the approval bus.
package toolexec

import (
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Category is a tool's dispatch category, loaded dynamically from a shared
// configuration store and never hardcoded per tool name.
type Category string

const (
	CategoryRead    Category = "read"
	CategoryWrite   Category = "write"
	CategoryCommand Category = "command"
	CategoryDeploy  Category = "deploy"

	// Named groups dispatched locally regardless of mode policy.
	CategoryGit          Category = "git"
	CategoryMemory       Category = "memory"
	CategoryWeb          Category = "web"
	CategoryVision       Category = "vision"
	CategorySkill        Category = "skill"
	CategoryHealth       Category = "health"
	CategoryOrchestrator Category = "orchestrator"
	CategoryAgentBuilder Category = "agent_builder"
)

// Decision is the policy outcome for a tool call before approval is applied.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionApproval Decision = "approval"
)

// shellMetacharSubstrings are the exact substrings whose presence in a
// command disqualifies prefix/token allowlist matching (mode policy table,
// auto-mode command row).
var shellMetacharSubstrings = []string{
	"&&", "||", ";", "|", "`", "$(", "${", "<(", ">(",
}

func containsShellMetachar(command string) bool {
	for _, needle := range shellMetacharSubstrings {
		if strings.Contains(command, needle) {
			return true
		}
	}
	return false
}

// ModeDecision returns the policy decision for a tool in the given category
// under the given agent mode, per the mode policy table. For command tools
// in auto mode, allowlist is consulted by the caller via MatchesAllowlist;
// ModeDecision alone reports DecisionApproval for a command tool in auto
// mode, leaving the allowlist check to the caller.
func ModeDecision(mode models.AgentMode, category Category) Decision {
	switch category {
	case CategoryRead, CategoryGit, CategoryMemory, CategoryWeb, CategoryVision,
		CategorySkill, CategoryHealth, CategoryOrchestrator, CategoryAgentBuilder:
		// Read tools and the named local groups are never mode-gated.
		return DecisionAllow
	}

	switch mode {
	case models.ModePlan:
		switch category {
		case CategoryWrite, CategoryCommand, CategoryDeploy:
			return DecisionDeny
		}
		return DecisionAllow

	case models.ModeAsk:
		switch category {
		case CategoryWrite, CategoryCommand, CategoryDeploy:
			return DecisionApproval
		}
		return DecisionAllow

	case models.ModeAuto:
		switch category {
		case CategoryWrite:
			return DecisionAllow
		case CategoryCommand:
			return DecisionApproval // resolved further by allowlist check
		case CategoryDeploy:
			return DecisionApproval
		}
		return DecisionAllow

	case models.ModeSovereign:
		return DecisionAllow
	}

	return DecisionApproval
}

// MatchesAllowlist implements the command allowlist matching rules:
// patterns are exact strings (glob characters reject the pattern outright);
// a command matches when (a) it equals the pattern, (b) its first token
// equals the pattern and the full command has no shell metacharacter, or
// (c) it starts with "pattern " and has no shell metacharacter.
func MatchesAllowlist(allowlist []string, command string) bool {
	for _, pattern := range allowlist {
		if IsValidAllowlistPattern(pattern) && commandMatchesPattern(command, pattern) {
			return true
		}
	}
	return false
}

// IsValidAllowlistPattern rejects patterns containing glob characters,
// which are never honored for safety.
func IsValidAllowlistPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[]")
}

func commandMatchesPattern(command, pattern string) bool {
	if command == pattern {
		return true
	}
	if containsShellMetachar(command) {
		return false
	}
	fields := strings.Fields(command)
	if len(fields) > 0 && fields[0] == pattern {
		return true
	}
	return strings.HasPrefix(command, pattern+" ")
}
