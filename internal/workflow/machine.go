package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/archplay/chuangcut-engine/internal/ai"
	"github.com/archplay/chuangcut-engine/internal/media"
)

// Outcome tags what one Advance call did.
type Outcome string

const (
	OutcomeAdvanced       Outcome = "advanced"
	OutcomeNoop           Outcome = "noop"
	OutcomePaused         Outcome = "paused"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeConflict       Outcome = "conflict"
)

// AdvanceResult reports the step an Advance call touched and how it ended.
type AdvanceResult struct {
	Outcome    Outcome       `json:"outcome"`
	JobID      string        `json:"job_id"`
	MajorStep  string        `json:"major_step,omitempty"`
	SubStep    string        `json:"sub_step,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Machine drives jobs through the editing pipeline. Each Advance call makes
// at most one sub-step of progress under the job's lock; durable state in
// the step history is the only cursor, so a crash between calls loses
// nothing and a duplicate call is a no-op.
type Machine struct {
	repo        Repository
	registry    *Registry
	history     *HistoryRecorder
	state       *StateManager
	locks       *LockService
	analyzer    ai.Analyzer
	media       media.Client
	scenes      *SceneController
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      *slog.Logger
}

type MachineConfig struct {
	Repo        Repository
	Registry    *Registry
	History     *HistoryRecorder
	State       *StateManager
	Locks       *LockService
	Analyzer    ai.Analyzer
	Media       media.Client
	Scenes      *SceneController
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Logger      *slog.Logger
}

func NewMachine(cfg MachineConfig) *Machine {
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
	return &Machine{
		repo:        cfg.Repo,
		registry:    cfg.Registry,
		history:     cfg.History,
		state:       cfg.State,
		locks:       cfg.Locks,
		analyzer:    cfg.Analyzer,
		media:       cfg.Media,
		scenes:      cfg.Scenes,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		logger:      cfg.Logger,
	}
}

// jobConfig is the per-job options blob stored on the job row.
type jobConfig struct {
	ValidationProfile string `json:"validation_profile,omitempty"`
	Voice             string `json:"voice,omitempty"`
}

func parseJobConfig(raw string) jobConfig {
	cfg := jobConfig{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &cfg)
	}
	if cfg.ValidationProfile == "" {
		cfg.ValidationProfile = StrictProfile
	}
	return cfg
}

// Start moves a pending job into processing at the first pipeline stage.
// Starting a job in any other status is a no-op.
func (m *Machine) Start(ctx context.Context, jobID string) error {
	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status != JobStatusPending {
		return nil
	}

	if err := m.repo.EnsureJobState(ctx, jobID); err != nil {
		return err
	}
	if err := m.repo.MarkJobStarted(ctx, jobID, m.registry.FirstMajorStep()); err != nil {
		return err
	}
	m.logger.Info("job started", "job_id", jobID, "step", m.registry.FirstMajorStep())
	return nil
}

// Advance executes the job's next pending sub-step under its lock. Jobs not
// in processing are left untouched; a lock held elsewhere yields a conflict
// outcome for the caller to back off on. Control signals (pause, stop,
// cancel) are observed here, at the step boundary, never mid-step.
func (m *Machine) Advance(ctx context.Context, jobID string) (*AdvanceResult, error) {
	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return &AdvanceResult{Outcome: OutcomeNoop, JobID: jobID}, nil
	}

	lease, err := m.locks.AcquireJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return &AdvanceResult{Outcome: OutcomeConflict, JobID: jobID}, nil
		}
		return nil, err
	}
	defer lease.Release(ctx)

	// Re-read under the lock: a control signal may have landed in between.
	job, err = m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.Status != JobStatusProcessing {
		return &AdvanceResult{Outcome: OutcomeNoop, JobID: jobID}, nil
	}

	snap, err := m.state.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if snap.IsPaused {
		if err := m.repo.MarkJobStatus(ctx, jobID, JobStatusPaused); err != nil {
			return nil, err
		}
		m.logger.Info("job paused at step boundary", "job_id", jobID, "step", job.CurrentStep)
		return &AdvanceResult{Outcome: OutcomePaused, JobID: jobID, MajorStep: job.CurrentStep}, nil
	}

	next, latest, err := m.nextSubStep(ctx, job)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// Every sub-step already completed.
		if err := m.repo.MarkJobCompleted(ctx, jobID); err != nil {
			return nil, err
		}
		return &AdvanceResult{Outcome: OutcomeCompleted, JobID: jobID}, nil
	}

	if latest != nil && latest.Status == EntryStatusFailed {
		if latest.Attempt >= m.maxAttempts {
			return m.failJob(ctx, job, next, latest.Attempt,
				NewFatalError(fmt.Errorf("%s exhausted %d attempts: %s", next.ID, latest.Attempt, latest.ErrorMessage)))
		}
		if wait := retryRemaining(latest, time.Now().UTC()); wait > 0 {
			return &AdvanceResult{
				Outcome:    OutcomeRetryScheduled,
				JobID:      jobID,
				MajorStep:  next.MajorStep,
				SubStep:    next.ID,
				Attempt:    latest.Attempt,
				RetryAfter: wait,
			}, nil
		}
	}

	if job.CurrentStep != next.MajorStep {
		if err := m.repo.SetJobCurrentStep(ctx, jobID, next.MajorStep); err != nil {
			return nil, err
		}
		job.CurrentStep = next.MajorStep
	}

	return m.runSubStep(ctx, job, next, lease)
}

// retryRemaining returns how long until a failed attempt's scheduled retry
// becomes due, or zero when it is due now.
func retryRemaining(latest *StepHistoryEntry, now time.Time) time.Duration {
	if latest.RetryDelayMs <= 0 || latest.CompletedAt == nil {
		return 0
	}
	due := latest.CompletedAt.Add(time.Duration(latest.RetryDelayMs) * time.Millisecond)
	if now.Before(due) {
		return due.Sub(now)
	}
	return 0
}

// nextSubStep walks the registered pipeline in order and returns the first
// sub-step whose latest attempt is not terminal-successful, together with
// that attempt (nil when never run). A nil sub-step means the pipeline is
// fully complete.
func (m *Machine) nextSubStep(ctx context.Context, job *Job) (*SubStepDef, *StepHistoryEntry, error) {
	for _, major := range m.registry.MajorSteps() {
		for _, def := range m.registry.SubSteps(major) {
			latest, err := m.history.LatestAttempt(ctx, job.ID, def.ID, "")
			if err != nil {
				return nil, nil, err
			}
			if latest == nil {
				d := def
				return &d, nil, nil
			}
			switch latest.Status {
			case EntryStatusCompleted:
				// A scene-processing run interrupted by a pause is recorded
				// completed but the stage is not done until every runnable
				// scene was dispatched.
				if def.ID == SubStepProcessScenes && processRunPaused(latest.OutputData) {
					d := def
					return &d, latest, nil
				}
			case EntryStatusSkipped:
			case EntryStatusFailed:
				d := def
				return &d, latest, nil
			default:
				// A running row means a previous holder crashed mid-step;
				// freeze it and retry in a fresh attempt.
				if err := m.history.FailAttempt(ctx, latest.ID, "interrupted", 0); err != nil && !errors.Is(err, ErrEntryFrozen) {
					return nil, nil, err
				}
				d := def
				return &d, nil, nil
			}
		}
	}
	return nil, nil, nil
}

func processRunPaused(outputData string) bool {
	var summary SceneSummary
	if err := json.Unmarshal([]byte(outputData), &summary); err != nil {
		return false
	}
	return summary.Paused
}

// runSubStep executes one sub-step wrapped in a history attempt and maps
// the result onto the job row.
func (m *Machine) runSubStep(ctx context.Context, job *Job, def *SubStepDef, lease *Lease) (*AdvanceResult, error) {
	// Narration generation folds into analysis output when every scene is
	// already covered; record the skip rather than an empty run.
	if def.ID == SubStepGenerateNarrations {
		covered, err := m.narrationsCovered(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if covered {
			if _, err := m.history.SkipAttempt(ctx, job.ID, def.ID, "", "narrations supplied by analysis"); err != nil {
				return nil, err
			}
			return &AdvanceResult{Outcome: OutcomeAdvanced, JobID: job.ID, MajorStep: def.MajorStep, SubStep: def.ID}, nil
		}
	}

	// Refresh the lease so its TTL covers the step about to run. A refused
	// extension means the lease expired and the row was reclaimed, so back
	// off before recording anything.
	if err := lease.Extend(ctx); err != nil {
		m.logger.Warn("job lease lost before step execution",
			"job_id", job.ID, "sub_step", def.ID, "error", err)
		return &AdvanceResult{Outcome: OutcomeConflict, JobID: job.ID}, nil
	}

	entry, err := m.history.BeginAttempt(ctx, job.ID, def.ID, "", "")
	if err != nil {
		return nil, err
	}

	m.logger.Info("executing sub-step",
		"job_id", job.ID, "sub_step", def.ID, "attempt", entry.Attempt)

	output, paused, execErr := m.executeSubStep(ctx, job, def.ID)
	if execErr != nil {
		return m.handleFailure(ctx, job, def, entry, execErr)
	}

	if err := m.history.CompleteAttempt(ctx, entry.ID, output); err != nil {
		return nil, err
	}

	if paused {
		if err := m.repo.MarkJobStatus(ctx, job.ID, JobStatusPaused); err != nil {
			return nil, err
		}
		m.logger.Info("job paused during scene processing", "job_id", job.ID)
		return &AdvanceResult{Outcome: OutcomePaused, JobID: job.ID, MajorStep: def.MajorStep, SubStep: def.ID}, nil
	}

	if def.ID == SubStepPublishOutput {
		if err := m.repo.MarkJobCompleted(ctx, job.ID); err != nil {
			return nil, err
		}
		m.logger.Info("job completed", "job_id", job.ID)
		return &AdvanceResult{Outcome: OutcomeCompleted, JobID: job.ID, MajorStep: def.MajorStep, SubStep: def.ID, Attempt: entry.Attempt}, nil
	}

	return &AdvanceResult{Outcome: OutcomeAdvanced, JobID: job.ID, MajorStep: def.MajorStep, SubStep: def.ID, Attempt: entry.Attempt}, nil
}

func (m *Machine) handleFailure(ctx context.Context, job *Job, def *SubStepDef, entry *StepHistoryEntry, execErr error) (*AdvanceResult, error) {
	class := Classify(execErr)

	if class == ClassTransient && entry.Attempt < m.maxAttempts {
		delay := BackoffDelay(entry.Attempt, m.backoffBase, m.backoffMax)
		if err := m.history.FailAttempt(ctx, entry.ID, execErr.Error(), delay.Milliseconds()); err != nil {
			return nil, err
		}
		m.logger.Warn("sub-step failed, retry scheduled",
			"job_id", job.ID, "sub_step", def.ID, "attempt", entry.Attempt, "delay", delay, "error", execErr)
		return &AdvanceResult{
			Outcome:    OutcomeRetryScheduled,
			JobID:      job.ID,
			MajorStep:  def.MajorStep,
			SubStep:    def.ID,
			Attempt:    entry.Attempt,
			RetryAfter: delay,
			Error:      execErr.Error(),
		}, nil
	}

	if err := m.history.FailAttempt(ctx, entry.ID, execErr.Error(), 0); err != nil && !errors.Is(err, ErrEntryFrozen) {
		return nil, err
	}
	return m.failJob(ctx, job, def, entry.Attempt, execErr)
}

// failJob moves the job to failed with structured error metadata.
func (m *Machine) failJob(ctx context.Context, job *Job, def *SubStepDef, attempt int, execErr error) (*AdvanceResult, error) {
	class := Classify(execErr)
	meta := map[string]interface{}{
		"class":     class,
		"step":      def.MajorStep,
		"sub_step":  def.ID,
		"attempt":   attempt,
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	}
	var se *StepError
	if errors.As(execErr, &se) && len(se.Details) > 0 {
		meta["details"] = se.Details
	}
	metaJSON, _ := json.Marshal(meta)

	if err := m.repo.MarkJobFailed(ctx, job.ID, execErr.Error(), string(metaJSON)); err != nil {
		return nil, err
	}
	m.logger.Error("job failed",
		"job_id", job.ID, "sub_step", def.ID, "class", class, "error", execErr)
	return &AdvanceResult{
		Outcome:   OutcomeFailed,
		JobID:     job.ID,
		MajorStep: def.MajorStep,
		SubStep:   def.ID,
		Attempt:   attempt,
		Error:     execErr.Error(),
	}, nil
}

// executeSubStep dispatches to the executor for a job-scoped sub-step. The
// paused flag is set only by the scene-processing aggregate when a pause
// stopped dispatch partway.
func (m *Machine) executeSubStep(ctx context.Context, job *Job, subStep string) (output string, paused bool, err error) {
	switch subStep {
	case SubStepAnalyzeVideo:
		output, err = m.analyzeVideo(ctx, job)
	case SubStepValidateStoryboards:
		output, err = m.validateStoryboards(ctx, job)
	case SubStepGenerateNarrations:
		output, err = m.generateNarrations(ctx, job)
	case SubStepSplitSource:
		output, err = m.splitSource(ctx, job)
	case SubStepProcessScenes:
		output, paused, err = m.processScenes(ctx, job)
	case SubStepComposeTimeline:
		output, err = m.composeTimeline(ctx, job)
	case SubStepPublishOutput:
		output, err = m.publishOutput(ctx, job)
	default:
		err = NewFatalError(fmt.Errorf("no executor for sub-step %s", subStep))
	}
	return output, paused, err
}

// analyzeVideo asks the LLM service for storyboards and stores the context
// cache handle for later narration calls.
func (m *Machine) analyzeVideo(ctx context.Context, job *Job) (string, error) {
	set, err := m.analyzer.AnalyzeVideo(ctx, ai.AnalyzeRequest{
		JobID:  job.ID,
		Videos: job.InputVideos,
		Style:  job.Style,
		Config: job.Config,
	})
	if err != nil {
		return "", err
	}
	if len(set.Storyboards) == 0 {
		return "", NewValidationError(errors.New("analysis produced no storyboards"))
	}

	if set.Cache != nil {
		if err := m.state.RecordCacheHandle(ctx, job.ID, set.Cache.Name, set.Cache.ExpiresAt, set.Cache.TokenCount); err != nil {
			return "", err
		}
	}
	return marshalOutput(set), nil
}

// validateStoryboards checks the analysis output and materialises scene
// rows. Out-of-range storyboards become skipped scenes; at least one valid
// scene is required to continue.
func (m *Machine) validateStoryboards(ctx context.Context, job *Job) (string, error) {
	raw, err := m.completedOutput(ctx, job.ID, SubStepAnalyzeVideo)
	if err != nil {
		return "", err
	}
	var set ai.StoryboardSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return "", NewFatalError(fmt.Errorf("unreadable analysis output: %w", err))
	}

	cfg := parseJobConfig(job.Config)
	summary := ValidateStoryboards(cfg.ValidationProfile, set.Storyboards, set.VideoDurationSeconds)
	if summary.Valid == 0 {
		return "", NewValidationError(fmt.Errorf("no valid scenes: %d invalid, %d skipped", summary.Invalid, summary.Skipped))
	}

	// Re-running after a crash must not duplicate scene rows.
	existing, err := m.repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		return "", err
	}
	if len(existing) == 0 {
		nowT := time.Now().UTC()
		var scenes []*Scene
		index := 0
		for _, check := range summary.Checks {
			if !check.OK {
				continue
			}
			sb := check.Storyboard
			source := sb.SourceVideo
			if source == "" && len(job.InputVideos) > 0 {
				source = job.InputVideos[0]
			}
			scenes = append(scenes, &Scene{
				ID:               NewID(),
				JobID:            job.ID,
				SceneIndex:       index,
				SourceVideo:      source,
				StartTime:        sb.StartTime,
				EndTime:          sb.EndTime,
				DurationSeconds:  sb.DurationSeconds,
				Narrations:       sb.Narrations,
				UseOriginalAudio: sb.UseOriginalAudio,
				IsSkipped:        check.ShouldSkip,
				CreatedAt:        nowT,
				UpdatedAt:        nowT,
			})
			index++
		}
		if err := m.repo.CreateScenes(ctx, scenes); err != nil {
			return "", err
		}
	}

	return marshalOutput(map[string]interface{}{
		"profile": cfg.ValidationProfile,
		"valid":   summary.Valid,
		"skipped": summary.Skipped,
		"invalid": summary.Invalid,
		"fixed":   summary.Fixed,
	}), nil
}

// narrationsCovered reports whether every runnable scene already has
// narration candidates or keeps its original audio.
func (m *Machine) narrationsCovered(ctx context.Context, jobID string) (bool, error) {
	scenes, err := m.repo.ListScenesByJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, s := range scenes {
		if s.IsSkipped || s.UseOriginalAudio {
			continue
		}
		if len(s.Narrations) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// generateNarrations fills narration candidates for scenes the analysis
// left uncovered, reusing the context cache when one is still live.
func (m *Machine) generateNarrations(ctx context.Context, job *Job) (string, error) {
	scenes, err := m.repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		return "", err
	}

	cacheName := ""
	snap, err := m.state.Snapshot(ctx, job.ID)
	if err != nil {
		return "", err
	}
	if snap.CacheName != "" && (snap.CacheExpiresAt == nil || time.Now().UTC().Before(*snap.CacheExpiresAt)) {
		cacheName = snap.CacheName
	}

	generated := 0
	dropped := 0
	runnable := 0
	for _, s := range scenes {
		if s.IsSkipped {
			continue
		}
		runnable++
		if s.UseOriginalAudio || len(s.Narrations) > 0 {
			continue
		}
		texts, err := m.analyzer.GenerateNarrations(ctx, ai.NarrationRequest{
			JobID:           job.ID,
			SceneIndex:      s.SceneIndex,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			DurationSeconds: s.DurationSeconds,
			Style:           job.Style,
			CacheName:       cacheName,
		})
		if err != nil {
			return "", err
		}
		if len(texts) == 0 {
			// A scene the model cannot narrate is dropped from the cut, not
			// allowed to sink the whole job.
			skip := true
			reason := fmt.Sprintf("no narration candidates for scene %d", s.SceneIndex)
			if err := m.repo.PatchScene(ctx, s.ID, ScenePatch{IsSkipped: &skip, FailureReason: &reason}); err != nil {
				return "", err
			}
			m.logger.Warn("scene dropped for missing narration",
				"job_id", job.ID, "scene_index", s.SceneIndex)
			dropped++
			runnable--
			continue
		}
		if err := m.repo.PatchScene(ctx, s.ID, ScenePatch{Narrations: &texts}); err != nil {
			return "", err
		}
		generated++
	}

	if runnable == 0 {
		return "", NewValidationError(errors.New("no scene has narration candidates"))
	}

	return marshalOutput(map[string]interface{}{
		"generated":  generated,
		"dropped":    dropped,
		"cache_used": cacheName != "",
	}), nil
}

// splitSource extracts one raw clip per runnable scene. Scenes that already
// have a clip are left alone, so a retry resumes where the last run died.
func (m *Machine) splitSource(ctx context.Context, job *Job) (string, error) {
	scenes, err := m.repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		return "", err
	}

	split := 0
	skipped := 0
	for _, s := range scenes {
		if s.IsSkipped {
			skipped++
			continue
		}
		if s.ClipPath != "" {
			continue
		}
		res, err := m.media.SplitScene(ctx, s.SourceVideo, s.StartTime, s.EndTime, s.DurationSeconds)
		if err != nil {
			return "", fmt.Errorf("split scene %d: %w", s.SceneIndex, err)
		}
		if err := m.repo.PatchScene(ctx, s.ID, ScenePatch{ClipPath: &res.OutputURL, SplitTaskID: &res.TaskID}); err != nil {
			return "", err
		}
		split++
	}

	return marshalOutput(map[string]interface{}{"clips": split, "skipped": skipped}), nil
}

// processScenes hands the job to the concurrency controller.
func (m *Machine) processScenes(ctx context.Context, job *Job) (string, bool, error) {
	scenes, err := m.repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		return "", false, err
	}
	summary, err := m.scenes.ProcessScenes(ctx, job, scenes)
	if err != nil {
		return "", false, err
	}
	return marshalOutput(summary), summary.Paused, nil
}

// composeTimeline concatenates every successfully processed clip in scene
// order. Failed and skipped scenes are left out; the run fails only when
// nothing survived to compose.
func (m *Machine) composeTimeline(ctx context.Context, job *Job) (string, error) {
	scenes, err := m.repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		return "", err
	}

	var clips []string
	totalSeconds := 0.0
	for _, s := range scenes {
		if s.IsSkipped || s.FailureReason != "" || s.SubtitleTaskID == "" || s.ClipPath == "" {
			continue
		}
		clips = append(clips, s.ClipPath)
		totalSeconds += s.DurationSeconds
	}
	if len(clips) == 0 {
		return "", NewFatalError(errors.New("no processed scenes to compose"))
	}

	res, err := m.media.ComposeTimeline(ctx, clips, totalSeconds)
	if err != nil {
		return "", err
	}
	return marshalOutput(res), nil
}

// publishOutput copies the composition result into the job snapshot, making
// the final locations the job's durable answer.
func (m *Machine) publishOutput(ctx context.Context, job *Job) (string, error) {
	raw, err := m.completedOutput(ctx, job.ID, SubStepComposeTimeline)
	if err != nil {
		return "", err
	}
	var res media.ComposeResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return "", NewFatalError(fmt.Errorf("unreadable composition output: %w", err))
	}
	if res.VideoURL == "" {
		return "", NewFatalError(errors.New("composition output has no video URL"))
	}

	if err := m.state.RecordFinalOutput(ctx, job.ID, res.VideoURL, res.PublicURL, res.StorageURI, res.LocalPath, res.Metadata); err != nil {
		return "", err
	}
	return marshalOutput(map[string]string{
		"video_url":   res.VideoURL,
		"public_url":  res.PublicURL,
		"storage_uri": res.StorageURI,
		"local_path":  res.LocalPath,
	}), nil
}

// completedOutput returns the output payload of the latest completed
// attempt of an earlier sub-step. Its absence is a pipeline-order bug, not
// a transient condition.
func (m *Machine) completedOutput(ctx context.Context, jobID, subStep string) (string, error) {
	latest, err := m.history.LatestAttempt(ctx, jobID, subStep, "")
	if err != nil {
		return "", err
	}
	if latest == nil || latest.Status != EntryStatusCompleted {
		return "", NewFatalError(fmt.Errorf("no completed %s output for job %s", subStep, jobID))
	}
	return latest.OutputData, nil
}
