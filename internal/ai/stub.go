package ai

import (
	"context"
	"fmt"
	"log/slog"
)

// StubAnalyzer returns a fixed three-scene storyboard so the engine can run
// end to end without the AI gateway configured.
type StubAnalyzer struct {
	logger *slog.Logger
}

func NewStubAnalyzer(logger *slog.Logger) *StubAnalyzer {
	return &StubAnalyzer{logger: logger}
}

func (s *StubAnalyzer) AnalyzeVideo(ctx context.Context, req AnalyzeRequest) (*StoryboardSet, error) {
	s.logger.Info("ai stub: analysis requested", "job_id", req.JobID, "videos", len(req.Videos))

	source := ""
	if len(req.Videos) > 0 {
		source = req.Videos[0]
	}

	return &StoryboardSet{
		VideoDurationSeconds: 30,
		Storyboards: []Storyboard{
			{Index: 0, SourceVideo: source, StartTime: "00:00:00.000", EndTime: "00:00:10.000", DurationSeconds: 10, Narrations: []string{"Opening scene."}},
			{Index: 1, SourceVideo: source, StartTime: "00:00:10.000", EndTime: "00:00:20.000", DurationSeconds: 10, Narrations: []string{"Middle scene."}},
			{Index: 2, SourceVideo: source, StartTime: "00:00:20.000", EndTime: "00:00:30.000", DurationSeconds: 10, Narrations: []string{"Closing scene."}},
		},
	}, nil
}

func (s *StubAnalyzer) GenerateNarrations(ctx context.Context, req NarrationRequest) ([]string, error) {
	s.logger.Info("ai stub: narration requested", "job_id", req.JobID, "scene_index", req.SceneIndex)
	return []string{fmt.Sprintf("Narration for scene %d.", req.SceneIndex)}, nil
}

// StubSynthesizer fabricates audio artifacts whose duration tracks the
// narration length, which keeps audio selection deterministic in tests.
type StubSynthesizer struct {
	logger *slog.Logger
}

func NewStubSynthesizer(logger *slog.Logger) *StubSynthesizer {
	return &StubSynthesizer{logger: logger}
}

func (s *StubSynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioArtifact, error) {
	s.logger.Info("ai stub: synthesis requested", "voice", req.Voice, "chars", len(req.Text))
	// Rough speech rate: 15 characters per second.
	duration := float64(len(req.Text)) / 15.0
	if duration < 1 {
		duration = 1
	}
	return &AudioArtifact{
		URL:             fmt.Sprintf("stub://tts/%d.wav", len(req.Text)),
		DurationSeconds: duration,
	}, nil
}
