package workflow

import "strings"

// SubStepDef describes one registered sub-step: its identifier, a human
// label for presentation layers, the major step it belongs to and a coarse
// type tag recorded in step history.
type SubStepDef struct {
	ID        string
	Label     string
	MajorStep string
	StepType  string
	// SceneScoped marks sub-steps executed per scene by the concurrency
	// controller; their history sub_step ids carry a ":<sceneID>" suffix.
	SceneScoped bool
}

// Registry is a static lookup table from step identifiers to labels and
// stages. It carries no mutable state.
type Registry struct {
	majorOrder []string
	stages     map[string]string
	subSteps   map[string][]SubStepDef
	byID       map[string]SubStepDef
}

// Scene-scoped sub-step identifiers (suffixed with ":<sceneID>" in history).
const (
	SubStepTrimScene       = "trim_scene"
	SubStepSynthesizeAudio = "synthesize_audio"
	SubStepSelectAudio     = "select_audio"
	SubStepAdjustSpeed     = "adjust_speed"
	SubStepMergeAudio      = "merge_audio"
	SubStepBurnSubtitle    = "burn_subtitle"
)

// Job-scoped sub-step identifiers.
const (
	SubStepAnalyzeVideo        = "analyze_video"
	SubStepValidateStoryboards = "validate_storyboards"
	SubStepGenerateNarrations  = "generate_narrations"
	SubStepSplitSource         = "split_source"
	SubStepProcessScenes       = "process_scenes"
	SubStepComposeTimeline     = "compose_timeline"
	SubStepPublishOutput       = "publish_output"
)

// NewRegistry builds the static step table for the editing pipeline.
func NewRegistry() *Registry {
	r := &Registry{
		majorOrder: []string{
			StepAnalysis,
			StepGenerateNarrations,
			StepExtractScenes,
			StepProcessScenes,
			StepCompose,
		},
		stages: map[string]string{
			StepAnalysis:           "Scene Analysis",
			StepGenerateNarrations: "Narration Generation",
			StepExtractScenes:      "Scene Extraction",
			StepProcessScenes:      "Scene Processing",
			StepCompose:            "Final Composition",
		},
		subSteps: map[string][]SubStepDef{},
		byID:     map[string]SubStepDef{},
	}

	defs := []SubStepDef{
		{ID: SubStepAnalyzeVideo, Label: "Analyze source video", MajorStep: StepAnalysis, StepType: "llm"},
		{ID: SubStepValidateStoryboards, Label: "Validate storyboards", MajorStep: StepAnalysis, StepType: "validation"},
		{ID: SubStepGenerateNarrations, Label: "Generate narration scripts", MajorStep: StepGenerateNarrations, StepType: "llm"},
		{ID: SubStepSplitSource, Label: "Split source into scene clips", MajorStep: StepExtractScenes, StepType: "media"},
		{ID: SubStepProcessScenes, Label: "Process scenes", MajorStep: StepProcessScenes, StepType: "aggregate"},
		{ID: SubStepTrimScene, Label: "Trim scene clip", MajorStep: StepProcessScenes, StepType: "media", SceneScoped: true},
		{ID: SubStepSynthesizeAudio, Label: "Synthesize narration audio", MajorStep: StepProcessScenes, StepType: "tts", SceneScoped: true},
		{ID: SubStepSelectAudio, Label: "Select best audio match", MajorStep: StepProcessScenes, StepType: "selection", SceneScoped: true},
		{ID: SubStepAdjustSpeed, Label: "Adjust clip speed", MajorStep: StepProcessScenes, StepType: "media", SceneScoped: true},
		{ID: SubStepMergeAudio, Label: "Merge audio and video", MajorStep: StepProcessScenes, StepType: "media", SceneScoped: true},
		{ID: SubStepBurnSubtitle, Label: "Burn subtitles", MajorStep: StepProcessScenes, StepType: "media", SceneScoped: true},
		{ID: SubStepComposeTimeline, Label: "Compose final timeline", MajorStep: StepCompose, StepType: "media"},
		{ID: SubStepPublishOutput, Label: "Publish final output", MajorStep: StepCompose, StepType: "publish"},
	}

	for _, d := range defs {
		r.byID[d.ID] = d
		if !d.SceneScoped {
			r.subSteps[d.MajorStep] = append(r.subSteps[d.MajorStep], d)
		}
	}

	return r
}

// MajorSteps returns the major steps in execution order.
func (r *Registry) MajorSteps() []string {
	out := make([]string, len(r.majorOrder))
	copy(out, r.majorOrder)
	return out
}

// FirstMajorStep returns the stage a freshly started job enters.
func (r *Registry) FirstMajorStep() string {
	return r.majorOrder[0]
}

// NextMajorStep returns the stage following the given one, or "" when the
// given stage is the last (or unknown).
func (r *Registry) NextMajorStep(step string) string {
	for i, s := range r.majorOrder {
		if s == step && i+1 < len(r.majorOrder) {
			return r.majorOrder[i+1]
		}
	}
	return ""
}

// SubSteps returns the job-scoped sub-steps of a major step, in order.
func (r *Registry) SubSteps(majorStep string) []SubStepDef {
	return r.subSteps[majorStep]
}

// Lookup resolves a sub-step id, stripping any scene suffix. Unknown ids
// resolve to an opaque definition rather than failing: the id doubles as
// the label and the stage is left empty.
func (r *Registry) Lookup(subStepID string) (SubStepDef, bool) {
	base := subStepID
	if i := strings.IndexByte(base, ':'); i >= 0 {
		base = base[:i]
	}
	if d, ok := r.byID[base]; ok {
		return d, true
	}
	return SubStepDef{ID: subStepID, Label: subStepID, StepType: "opaque"}, false
}

// StepLabel returns the human label for a sub-step id.
func (r *Registry) StepLabel(subStepID string) string {
	d, _ := r.Lookup(subStepID)
	return d.Label
}

// StageLabel returns the human label for a major step, or the id itself
// when the stage is not registered.
func (r *Registry) StageLabel(majorStep string) string {
	if l, ok := r.stages[majorStep]; ok {
		return l
	}
	return majorStep
}

// SceneSubStep builds the history sub_step id for a scene-scoped stage.
func SceneSubStep(base, sceneID string) string {
	return base + ":" + sceneID
}
