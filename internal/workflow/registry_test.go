package workflow

import (
	"testing"
)

func TestRegistry_MajorStepOrder(t *testing.T) {
	r := NewRegistry()

	want := []string{StepAnalysis, StepGenerateNarrations, StepExtractScenes, StepProcessScenes, StepCompose}
	got := r.MajorSteps()

	if len(got) != len(want) {
		t.Fatalf("major steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("major step %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_NextMajorStep(t *testing.T) {
	r := NewRegistry()

	if next := r.NextMajorStep(StepAnalysis); next != StepGenerateNarrations {
		t.Errorf("NextMajorStep(analysis) = %s, want %s", next, StepGenerateNarrations)
	}
	if next := r.NextMajorStep(StepCompose); next != "" {
		t.Errorf("NextMajorStep(compose) = %s, want empty", next)
	}
	if next := r.NextMajorStep("bogus"); next != "" {
		t.Errorf("NextMajorStep(bogus) = %s, want empty", next)
	}
}

func TestRegistry_Lookup_SceneSuffix(t *testing.T) {
	r := NewRegistry()

	def, known := r.Lookup(SceneSubStep(SubStepTrimScene, "scene-123"))
	if !known {
		t.Fatal("suffixed scene sub-step should resolve")
	}
	if def.MajorStep != StepProcessScenes {
		t.Errorf("major step = %s, want %s", def.MajorStep, StepProcessScenes)
	}
	if !def.SceneScoped {
		t.Error("trim_scene should be scene scoped")
	}
}

func TestRegistry_Lookup_Unknown(t *testing.T) {
	r := NewRegistry()

	def, known := r.Lookup("no_such_step")
	if known {
		t.Fatal("unknown sub-step should not resolve as known")
	}
	if def.StepType != "opaque" {
		t.Errorf("step type = %s, want opaque", def.StepType)
	}
	if def.Label != "no_such_step" {
		t.Errorf("label = %s, want the id itself", def.Label)
	}
}

func TestRegistry_SubStepsPerMajor(t *testing.T) {
	r := NewRegistry()

	analysis := r.SubSteps(StepAnalysis)
	if len(analysis) != 2 || analysis[0].ID != SubStepAnalyzeVideo || analysis[1].ID != SubStepValidateStoryboards {
		t.Errorf("analysis sub-steps = %v", analysis)
	}

	// Scene-scoped stages are dispatched by the controller, not the walker.
	for _, d := range r.SubSteps(StepProcessScenes) {
		if d.SceneScoped {
			t.Errorf("scene-scoped sub-step %s listed under major step walk", d.ID)
		}
	}
}

func TestRegistry_StageLabel(t *testing.T) {
	r := NewRegistry()

	if l := r.StageLabel(StepCompose); l != "Final Composition" {
		t.Errorf("StageLabel(compose) = %s", l)
	}
	if l := r.StageLabel("mystery"); l != "mystery" {
		t.Errorf("StageLabel(mystery) = %s, want passthrough", l)
	}
}
