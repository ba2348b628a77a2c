// Package workflow implements the orchestration core of the editing engine:
// the job state machine, the scene concurrency controller, step history
// recording and the per-job state snapshot.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. completed, failed, stopped and cancelled are terminal.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusPaused     = "paused"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusStopped    = "stopped"
	JobStatusCancelled  = "cancelled"
)

// Major pipeline steps, in execution order.
const (
	StepAnalysis           = "analysis"
	StepGenerateNarrations = "generate_narrations"
	StepExtractScenes      = "extract_scenes"
	StepProcessScenes      = "process_scenes"
	StepCompose            = "compose"
)

const (
	JobTypeSingleVideo = "single_video"
	JobTypeMultiVideo  = "multi_video"

	JobSourceWeb = "web"
	JobSourceAPI = "api"
)

// Step history entry statuses. completed, failed and skipped are terminal;
// a row that reached one of them is frozen and re-execution opens a new
// attempt row instead.
const (
	EntryStatusPending   = "pending"
	EntryStatusRunning   = "running"
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
	EntryStatusSkipped   = "skipped"
)

type Job struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	CurrentStep   string     `json:"current_step,omitempty"`
	JobType       string     `json:"job_type"`
	InputVideos   []string   `json:"input_videos"`
	Style         string     `json:"style"`
	Config        string     `json:"config,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ErrorMetadata string     `json:"error_metadata,omitempty"`
	Source        string     `json:"source"`
	TokenRef      string     `json:"token_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job can make no further automatic progress.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped, JobStatusCancelled:
		return true
	}
	return false
}

// Scene is one segment of a job's source video. Timestamps are fixed-format
// HH:MM:SS.mmm strings; DurationSeconds is derived from them and corrected
// during storyboard validation whenever they disagree by more than 0.1s.
type Scene struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	SceneIndex       int       `json:"scene_index"`
	SourceVideo      string    `json:"source_video"`
	StartTime        string    `json:"start_time"`
	EndTime          string    `json:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Narrations       []string  `json:"narrations,omitempty"`
	UseOriginalAudio bool      `json:"use_original_audio"`
	IsPaused         bool      `json:"is_paused"`
	IsSkipped        bool      `json:"is_skipped"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	AudioCandidates  string    `json:"audio_candidates,omitempty"`
	ClipPath         string    `json:"clip_path,omitempty"`
	SplitTaskID      string    `json:"split_task_id,omitempty"`
	SpeedTaskID      string    `json:"speed_task_id,omitempty"`
	MergeTaskID      string    `json:"merge_task_id,omitempty"`
	SubtitleTaskID   string    `json:"subtitle_task_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StepHistoryEntry is one immutable execution attempt of one sub-step,
// optionally scoped to a scene. Attempt numbers are contiguous per
// (job, sub_step, scene) starting at 1.
type StepHistoryEntry struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	SceneID      string     `json:"scene_id,omitempty"`
	MajorStep    string     `json:"major_step"`
	SubStep      string     `json:"sub_step"`
	StepType     string     `json:"step_type"`
	Status       string     `json:"status"`
	Attempt      int        `json:"attempt"`
	RetryDelayMs int64      `json:"retry_delay_ms,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	InputData    string     `json:"input_data,omitempty"`
	StepMetadata string     `json:"step_metadata,omitempty"`
	OutputData   string     `json:"output_data,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsTerminal reports whether the entry is frozen.
func (e *StepHistoryEntry) IsTerminal() bool {
	switch e.Status {
	case EntryStatusCompleted, EntryStatusFailed, EntryStatusSkipped:
		return true
	}
	return false
}

// JobState is the mutable per-job snapshot: at most one row per job,
// superseded in place and distinct from the append-only step history.
type JobState struct {
	JobID            string     `json:"job_id"`
	IsPaused         bool       `json:"is_paused"`
	PauseRequestedAt *time.Time `json:"pause_requested_at,omitempty"`
	CacheName        string     `json:"cache_name,omitempty"`
	CacheExpiresAt   *time.Time `json:"cache_expires_at,omitempty"`
	CacheTokenCount  int64      `json:"cache_token_count,omitempty"`
	FinalVideoURL    string     `json:"final_video_url,omitempty"`
	FinalPublicURL   string     `json:"final_public_url,omitempty"`
	FinalStorageURI  string     `json:"final_storage_uri,omitempty"`
	FinalLocalPath   string     `json:"final_local_path,omitempty"`
	OutputMetadata   string     `json:"output_metadata,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Lock is an ephemeral row serialising step execution for one job.
// A lock is valid only while now < ExpiresAt; expired rows are reclaimable.
type Lock struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Metadata   string    `json:"metadata,omitempty"`
}

// Expired reports whether the lock row must be treated as absent.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// NewID returns a fresh identifier for jobs, scenes and history rows.
func NewID() string {
	return uuid.NewString()
}
