package orchestrator

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// intentSwitchPatterns maps a regex matched against the user's message to
// the mode it confidently signals. Sovereign is deliberately absent: it is
// never reached from inferred intent, only from an explicit mode-change API
// call.
var intentSwitchPatterns = []struct {
	mode    models.AgentMode
	pattern *regexp.Regexp
}{
	{models.ModePlan, regexp.MustCompile(`(?i)\b(switch to|go into|enter)\s+plan\s+mode\b`)},
	{models.ModePlan, regexp.MustCompile(`(?i)\bjust (plan|outline) (it|this|that) out\b`)},
	{models.ModeAsk, regexp.MustCompile(`(?i)\b(switch to|go into|enter)\s+ask\s+mode\b`)},
	{models.ModeAsk, regexp.MustCompile(`(?i)\bask me before (doing|changing) anything\b`)},
	{models.ModeAuto, regexp.MustCompile(`(?i)\b(switch to|go into|enter)\s+auto\s+mode\b`)},
	{models.ModeAuto, regexp.MustCompile(`(?i)\bjust (go ahead and )?do it\b`)},
	{models.ModeAuto, regexp.MustCompile(`(?i)\bdon'?t (ask|wait for) (me|approval)\b`)},
}

// detectIntentSwitch inspects a user message for a confident mode switch.
// Returns the zero AgentMode when no pattern matches.
func detectIntentSwitch(message string) models.AgentMode {
	for _, candidate := range intentSwitchPatterns {
		if candidate.pattern.MatchString(message) {
			return candidate.mode
		}
	}
	return ""
}

// planPresentedPattern matches assistant content that reads as a presented
// plan awaiting approval, reverting plan mode back to the prior mode.
var planPresentedPattern = regexp.MustCompile(`(?i)\b(here'?s (the|my) plan|proposed plan|plan of action)\b|^#+\s*plan\b`)

// autoDonePattern matches assistant content that reads as a completion
// announcement, reverting auto mode back to the prior mode.
var autoDonePattern = regexp.MustCompile(`(?i)\b(done|implemented|completed|finished)[.!]?\s*$`)

// applyIntentSwitch updates inst.Mode/PreviousMode from the user's message,
// called between loop steps 3 and 4. Sovereign is never entered this way.
func applyIntentSwitch(inst *models.AgentInstance, userMessage string) {
	switched := detectIntentSwitch(userMessage)
	if switched == "" || switched == inst.Mode {
		return
	}
	inst.PreviousMode = inst.Mode
	inst.Mode = switched
}

// applyAutoRevert matches the final assistant content against the per-mode
// revert regexes and restores the prior mode when content signals the
// current mode's task is over.
func applyAutoRevert(inst *models.AgentInstance, finalContent string) {
	if inst.PreviousMode == "" {
		return
	}
	content := strings.TrimSpace(finalContent)
	switch inst.Mode {
	case models.ModePlan:
		if planPresentedPattern.MatchString(content) {
			inst.Mode = inst.PreviousMode
			inst.PreviousMode = ""
		}
	case models.ModeAuto:
		if autoDonePattern.MatchString(content) {
			inst.Mode = inst.PreviousMode
			inst.PreviousMode = ""
		}
	}
}
