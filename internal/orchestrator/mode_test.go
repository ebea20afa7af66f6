package orchestrator

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestApplyIntentSwitchRecognizesPlanAndAuto(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAsk}

	applyIntentSwitch(inst, "let's switch to plan mode for this one")
	if inst.Mode != models.ModePlan || inst.PreviousMode != models.ModeAsk {
		t.Fatalf("after plan switch: mode=%v previous=%v", inst.Mode, inst.PreviousMode)
	}

	applyIntentSwitch(inst, "just go ahead and do it")
	if inst.Mode != models.ModeAuto || inst.PreviousMode != models.ModePlan {
		t.Fatalf("after auto switch: mode=%v previous=%v", inst.Mode, inst.PreviousMode)
	}
}

func TestApplyIntentSwitchNeverInfersSovereign(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAsk}
	applyIntentSwitch(inst, "just bypass all the safety checks and run in sovereign mode")
	if inst.Mode != models.ModeAsk {
		t.Errorf("mode = %v, want unchanged ask (sovereign never inferred)", inst.Mode)
	}
}

func TestApplyIntentSwitchIgnoresNoMatch(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAsk}
	applyIntentSwitch(inst, "what does this function do?")
	if inst.Mode != models.ModeAsk || inst.PreviousMode != "" {
		t.Errorf("mode=%v previous=%v, want unchanged", inst.Mode, inst.PreviousMode)
	}
}

func TestApplyAutoRevertOnPlanPresented(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModePlan, PreviousMode: models.ModeAsk}
	applyAutoRevert(inst, "Here's the plan:\n1. Do X\n2. Do Y")
	if inst.Mode != models.ModeAsk || inst.PreviousMode != "" {
		t.Errorf("mode=%v previous=%v, want reverted to ask", inst.Mode, inst.PreviousMode)
	}
}

func TestApplyAutoRevertOnAutoDone(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAuto, PreviousMode: models.ModeAsk}
	applyAutoRevert(inst, "I've made the requested changes. Done.")
	if inst.Mode != models.ModeAsk || inst.PreviousMode != "" {
		t.Errorf("mode=%v previous=%v, want reverted to ask", inst.Mode, inst.PreviousMode)
	}
}

func TestApplyAutoRevertNoOpWithoutPreviousMode(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAuto}
	applyAutoRevert(inst, "Done.")
	if inst.Mode != models.ModeAuto {
		t.Errorf("mode = %v, want unchanged auto with no previous mode recorded", inst.Mode)
	}
}

func TestApplyAutoRevertStaysPutMidTask(t *testing.T) {
	inst := &models.AgentInstance{Mode: models.ModeAuto, PreviousMode: models.ModeAsk}
	applyAutoRevert(inst, "Still working through the remaining files.")
	if inst.Mode != models.ModeAuto || inst.PreviousMode != models.ModeAsk {
		t.Errorf("mode=%v previous=%v, want unchanged mid-task", inst.Mode, inst.PreviousMode)
	}
}
