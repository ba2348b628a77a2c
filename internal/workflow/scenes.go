package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archplay/chuangcut-engine/internal/ai"
	"github.com/archplay/chuangcut-engine/internal/logging"
	"github.com/archplay/chuangcut-engine/internal/media"
)

// Speed adjustment never distorts a clip beyond recognisability.
const (
	minSpeedFactor = 0.5
	maxSpeedFactor = 2.0
)

// SceneSummary reports the outcome of one process_scenes run.
type SceneSummary struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
	Skipped   []string          `json:"skipped,omitempty"`
	Paused    bool              `json:"paused,omitempty"`
}

// SceneController runs the per-scene pipeline (trim, synthesize, select,
// speed, merge, subtitle) for all non-skipped scenes of a job with a
// bounded worker pool. One scene's failure never aborts its siblings; the
// run succeeds when at least one scene succeeds.
type SceneController struct {
	repo        Repository
	history     *HistoryRecorder
	state       *StateManager
	synth       ai.Synthesizer
	media       media.Client
	concurrency int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	voice       string
	logger      *slog.Logger
}

type SceneControllerConfig struct {
	Repo        Repository
	History     *HistoryRecorder
	State       *StateManager
	Synthesizer ai.Synthesizer
	Media       media.Client
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Voice       string
	Logger      *slog.Logger
}

func NewSceneController(cfg SceneControllerConfig) *SceneController {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}
	if concurrency > 8 {
		concurrency = 8
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffMax := cfg.BackoffMax
	if backoffMax <= 0 {
		backoffMax = time.Minute
	}
	return &SceneController{
		repo:        cfg.Repo,
		history:     cfg.History,
		state:       cfg.State,
		synth:       cfg.Synthesizer,
		media:       cfg.Media,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		voice:       cfg.Voice,
		logger:      cfg.Logger,
	}
}

type sceneResult struct {
	sceneID string
	err     error
}

// ProcessScenes runs the sub-pipeline for every runnable scene of the job.
// A pause signal observed between dispatches stops new work; in-flight
// scenes finish before the paused summary is returned. The returned error
// is non-nil only when every dispatched scene failed.
func (c *SceneController) ProcessScenes(ctx context.Context, job *Job, scenes []*Scene) (*SceneSummary, error) {
	summary := &SceneSummary{Failed: map[string]string{}}

	var run []*Scene
	for _, s := range scenes {
		if s.IsSkipped || s.IsPaused {
			summary.Skipped = append(summary.Skipped, s.ID)
			continue
		}
		run = append(run, s)
	}

	if len(run) == 0 {
		return summary, nil
	}

	workers := c.concurrency
	if workers > len(run) {
		workers = len(run)
	}

	sceneCh := make(chan *Scene)
	resultCh := make(chan sceneResult, len(run))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for s := range sceneCh {
				err := c.processScene(ctx, job, s)
				if err != nil {
					c.logger.Warn("scene processing failed",
						"job_id", job.ID, "scene_id", s.ID, "worker", n, "error", err)
				}
				resultCh <- sceneResult{sceneID: s.ID, err: err}
			}
		}(i + 1)
	}

	dispatched := 0
	for _, s := range run {
		if c.pauseRequested(ctx, job.ID) {
			summary.Paused = true
			break
		}
		sceneCh <- s
		dispatched++
	}
	close(sceneCh)
	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		if res.err != nil {
			reason := res.err.Error()
			summary.Failed[res.sceneID] = reason
			continue
		}
		summary.Succeeded = append(summary.Succeeded, res.sceneID)
	}

	c.logger.Info("scene processing finished",
		"job_id", job.ID,
		"succeeded", len(summary.Succeeded),
		"failed", len(summary.Failed),
		"skipped", len(summary.Skipped),
		"paused", summary.Paused,
	)

	if dispatched > 0 && len(summary.Succeeded) == 0 && !summary.Paused {
		return summary, NewFatalError(fmt.Errorf("all %d scenes failed", dispatched))
	}
	return summary, nil
}

func (c *SceneController) pauseRequested(ctx context.Context, jobID string) bool {
	snap, err := c.state.Snapshot(ctx, jobID)
	if err != nil {
		c.logger.Error("failed to read snapshot for pause check", "job_id", jobID, "error", err)
		return false
	}
	return snap.IsPaused
}

// processScene runs one scene through the sub-pipeline to completion.
// Every stage transition is recorded as its own step-history entry scoped
// to (job, scene); a failure marks the scene and is isolated here.
func (c *SceneController) processScene(ctx context.Context, job *Job, s *Scene) error {
	logger := logging.WithSceneID(logging.WithJobID(c.logger, job.ID), s.ID)

	// A scene that already finished the pipeline is a resume no-op.
	if s.SubtitleTaskID != "" && s.FailureReason == "" {
		return nil
	}

	err := c.runPipeline(ctx, job, s)
	if err != nil {
		reason := err.Error()
		if patchErr := c.repo.PatchScene(ctx, s.ID, ScenePatch{FailureReason: &reason}); patchErr != nil {
			logger.Error("failed to record scene failure", "error", patchErr)
		}
		return err
	}

	empty := ""
	return c.repo.PatchScene(ctx, s.ID, ScenePatch{FailureReason: &empty})
}

func (c *SceneController) runPipeline(ctx context.Context, job *Job, s *Scene) error {
	clip := s.ClipPath

	// Trim the raw clip to exact scene boundaries.
	if clip == "" {
		out, err := c.runStage(ctx, job.ID, SubStepTrimScene, s.ID, stageInput(s), func(ctx context.Context) (string, error) {
			res, err := c.media.SplitScene(ctx, s.SourceVideo, s.StartTime, s.EndTime, s.DurationSeconds)
			if err != nil {
				return "", err
			}
			if err := c.repo.PatchScene(ctx, s.ID, ScenePatch{ClipPath: &res.OutputURL, SplitTaskID: &res.TaskID}); err != nil {
				return "", err
			}
			return marshalOutput(res), nil
		})
		if err != nil {
			return fmt.Errorf("trim: %w", err)
		}
		var trimmed media.TaskResult
		_ = json.Unmarshal([]byte(out), &trimmed)
		clip = trimmed.OutputURL
	}

	if s.UseOriginalAudio {
		if _, err := c.history.SkipAttempt(ctx, job.ID, SceneSubStep(SubStepSynthesizeAudio, s.ID), s.ID, "scene keeps original audio"); err != nil {
			return err
		}
		return c.burnSubtitle(ctx, job, s, clip, "")
	}

	if len(s.Narrations) == 0 {
		return NewValidationError(fmt.Errorf("scene %d has no narration and does not keep original audio", s.SceneIndex))
	}

	// Synthesize one audio take per narration candidate. A per-job voice in
	// the job config wins over the engine default.
	voice := c.voice
	if jc := parseJobConfig(job.Config); jc.Voice != "" {
		voice = jc.Voice
	}
	var artifacts []ai.AudioArtifact
	_, err := c.runStage(ctx, job.ID, SubStepSynthesizeAudio, s.ID, stageInput(s), func(ctx context.Context) (string, error) {
		artifacts = artifacts[:0]
		for _, text := range s.Narrations {
			a, err := c.synth.Synthesize(ctx, ai.SynthesizeRequest{Text: text, Voice: voice})
			if err != nil {
				return "", err
			}
			artifacts = append(artifacts, *a)
		}
		out := marshalOutput(artifacts)
		if err := c.repo.PatchScene(ctx, s.ID, ScenePatch{AudioCandidates: &out}); err != nil {
			return "", err
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	// Pick the take whose length best matches the scene.
	best := 0
	_, err = c.runStage(ctx, job.ID, SubStepSelectAudio, s.ID, "", func(ctx context.Context) (string, error) {
		best = selectBestAudio(artifacts, s.DurationSeconds)
		return marshalOutput(map[string]interface{}{
			"selected_index":   best,
			"audio_duration_s": artifacts[best].DurationSeconds,
		}), nil
	})
	if err != nil {
		return fmt.Errorf("select audio: %w", err)
	}
	audio := artifacts[best]
	narration := s.Narrations[best]

	// Retime the clip so video length matches the narration take.
	speedClip := clip
	_, err = c.runStage(ctx, job.ID, SubStepAdjustSpeed, s.ID, "", func(ctx context.Context) (string, error) {
		factor := speedFactor(s.DurationSeconds, audio.DurationSeconds)
		res, err := c.media.AdjustSpeed(ctx, clip, factor, s.DurationSeconds)
		if err != nil {
			return "", err
		}
		if err := c.repo.PatchScene(ctx, s.ID, ScenePatch{SpeedTaskID: &res.TaskID}); err != nil {
			return "", err
		}
		speedClip = res.OutputURL
		return marshalOutput(res), nil
	})
	if err != nil {
		return fmt.Errorf("adjust speed: %w", err)
	}

	merged := speedClip
	_, err = c.runStage(ctx, job.ID, SubStepMergeAudio, s.ID, "", func(ctx context.Context) (string, error) {
		res, err := c.media.MergeAudioVideo(ctx, speedClip, audio.URL, audio.DurationSeconds)
		if err != nil {
			return "", err
		}
		if err := c.repo.PatchScene(ctx, s.ID, ScenePatch{MergeTaskID: &res.TaskID}); err != nil {
			return "", err
		}
		merged = res.OutputURL
		return marshalOutput(res), nil
	})
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	return c.burnSubtitle(ctx, job, s, merged, narration)
}

func (c *SceneController) burnSubtitle(ctx context.Context, job *Job, s *Scene, clip, narration string) error {
	_, err := c.runStage(ctx, job.ID, SubStepBurnSubtitle, s.ID, "", func(ctx context.Context) (string, error) {
		res, err := c.media.BurnSubtitle(ctx, clip, narration, s.DurationSeconds)
		if err != nil {
			return "", err
		}
		if err := c.repo.PatchScene(ctx, s.ID, ScenePatch{SubtitleTaskID: &res.TaskID, ClipPath: &res.OutputURL}); err != nil {
			return "", err
		}
		return marshalOutput(res), nil
	})
	if err != nil {
		return fmt.Errorf("burn subtitle: %w", err)
	}
	return nil
}

// runStage wraps one scene stage with step-history recording and inline
// retries for transient failures. Each attempt is its own history row.
func (c *SceneController) runStage(ctx context.Context, jobID, base, sceneID, input string, fn func(ctx context.Context) (string, error)) (string, error) {
	subStep := SceneSubStep(base, sceneID)

	for {
		entry, err := c.history.BeginAttempt(ctx, jobID, subStep, sceneID, input)
		if err != nil {
			return "", err
		}

		out, err := fn(ctx)
		if err == nil {
			if err := c.history.CompleteAttempt(ctx, entry.ID, out); err != nil {
				return "", err
			}
			return out, nil
		}

		if Classify(err) == ClassTransient && entry.Attempt < c.maxAttempts {
			delay := BackoffDelay(entry.Attempt, c.backoffBase, c.backoffMax)
			if histErr := c.history.FailAttempt(ctx, entry.ID, err.Error(), delay.Milliseconds()); histErr != nil {
				return "", histErr
			}
			c.logger.Warn("scene stage retry scheduled",
				"job_id", jobID, "sub_step", subStep, "attempt", entry.Attempt, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if histErr := c.history.FailAttempt(ctx, entry.ID, err.Error(), 0); histErr != nil && !errors.Is(histErr, ErrEntryFrozen) {
			c.logger.Error("failed to record stage failure", "sub_step", subStep, "error", histErr)
		}
		return "", err
	}
}

// selectBestAudio returns the index of the take whose duration is closest
// to the scene's.
func selectBestAudio(artifacts []ai.AudioArtifact, sceneSeconds float64) int {
	best := 0
	bestDelta := -1.0
	for i, a := range artifacts {
		delta := a.DurationSeconds - sceneSeconds
		if delta < 0 {
			delta = -delta
		}
		if bestDelta < 0 || delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	return best
}

// speedFactor computes how much to retime the clip so its length matches
// the narration take, clamped to keep motion natural.
func speedFactor(sceneSeconds, audioSeconds float64) float64 {
	if audioSeconds <= 0 || sceneSeconds <= 0 {
		return 1.0
	}
	factor := sceneSeconds / audioSeconds
	if factor < minSpeedFactor {
		return minSpeedFactor
	}
	if factor > maxSpeedFactor {
		return maxSpeedFactor
	}
	return factor
}

func stageInput(s *Scene) string {
	return marshalOutput(map[string]interface{}{
		"scene_index": s.SceneIndex,
		"start_time":  s.StartTime,
		"end_time":    s.EndTime,
		"duration_s":  s.DurationSeconds,
	})
}

func marshalOutput(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
