package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Control actions accepted on a job.
const (
	ControlPause  = "pause"
	ControlResume = "resume"
	ControlStop   = "stop"
	ControlCancel = "cancel"
)

// SubmitRequest describes a new editing job.
type SubmitRequest struct {
	InputVideos []string `json:"input_videos"`
	Style       string   `json:"style"`
	Config      string   `json:"config,omitempty"`
	Source      string   `json:"source,omitempty"`
	TokenRef    string   `json:"token_ref,omitempty"`
}

// JobStatus is the full projection of one job for callers: the row, its
// snapshot, its scenes and the most recent history entries.
type JobStatus struct {
	Job        *Job                `json:"job"`
	State      *JobState           `json:"state,omitempty"`
	Scenes     []*Scene            `json:"scenes,omitempty"`
	Stage      string              `json:"stage,omitempty"`
	History    []*StepHistoryEntry `json:"history,omitempty"`
	LatestStep *StepHistoryEntry   `json:"latest_step,omitempty"`
}

// Service is the job-facing API surface over the orchestration core. It
// validates input, applies control signals and assembles status
// projections; advancement itself stays in the Machine.
type Service struct {
	repo     Repository
	registry *Registry
	machine  *Machine
	state    *StateManager
	logger   *slog.Logger
}

func NewService(repo Repository, registry *Registry, machine *Machine, state *StateManager, logger *slog.Logger) *Service {
	return &Service{repo: repo, registry: registry, machine: machine, state: state, logger: logger}
}

// SubmitJob validates and persists a new job in pending status. The poller
// (or an explicit advance call) picks it up from there.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (*Job, error) {
	if len(req.InputVideos) == 0 {
		return nil, NewValidationError(fmt.Errorf("at least one input video is required"))
	}
	for i, v := range req.InputVideos {
		if v == "" {
			return nil, NewValidationError(fmt.Errorf("input video %d is empty", i))
		}
	}
	if req.Config != "" && !json.Valid([]byte(req.Config)) {
		return nil, NewValidationError(fmt.Errorf("config is not valid JSON"))
	}

	jobType := JobTypeSingleVideo
	if len(req.InputVideos) > 1 {
		jobType = JobTypeMultiVideo
	}
	source := req.Source
	if source == "" {
		source = JobSourceAPI
	}

	nowT := time.Now().UTC()
	job := &Job{
		ID:          NewID(),
		Status:      JobStatusPending,
		JobType:     jobType,
		InputVideos: req.InputVideos,
		Style:       req.Style,
		Config:      req.Config,
		Source:      source,
		TokenRef:    req.TokenRef,
		CreatedAt:   nowT,
		UpdatedAt:   nowT,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.repo.EnsureJobState(ctx, job.ID); err != nil {
		return nil, err
	}

	s.logger.Info("job submitted",
		"job_id", job.ID, "job_type", jobType, "videos", len(req.InputVideos), "source", source)
	return job, nil
}

// Status assembles the job projection.
func (s *Service) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	state, err := s.state.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	scenes, err := s.repo.ListScenesByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListStepEntries(ctx, jobID, 50)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{
		Job:     job,
		State:   state,
		Scenes:  scenes,
		Stage:   s.registry.StageLabel(job.CurrentStep),
		History: history,
	}
	if len(history) > 0 {
		status.LatestStep = history[0]
	}
	return status, nil
}

// ListJobs returns recent jobs, optionally filtered by status.
func (s *Service) ListJobs(ctx context.Context, status string, limit int) ([]*Job, error) {
	if status != "" {
		return s.repo.ListJobsByStatus(ctx, status, limit)
	}
	return s.repo.ListJobs(ctx, limit)
}

// Advance triggers one advancement step for the job.
func (s *Service) Advance(ctx context.Context, jobID string) (*AdvanceResult, error) {
	return s.machine.Advance(ctx, jobID)
}

// Control applies a lifecycle signal. Pause takes effect at the next step
// boundary; resume reawakens a paused job; stop and cancel are terminal.
func (s *Service) Control(ctx context.Context, jobID, action string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	switch action {
	case ControlPause:
		if job.IsTerminal() {
			return nil, NewValidationError(fmt.Errorf("cannot pause a %s job", job.Status))
		}
		if err := s.state.RequestPause(ctx, jobID); err != nil {
			return nil, err
		}

	case ControlResume:
		if job.Status != JobStatusPaused {
			return nil, NewValidationError(fmt.Errorf("cannot resume a %s job", job.Status))
		}
		if err := s.state.ClearPause(ctx, jobID); err != nil {
			return nil, err
		}
		if err := s.repo.MarkJobStatus(ctx, jobID, JobStatusProcessing); err != nil {
			return nil, err
		}
		s.logger.Info("job resumed", "job_id", jobID)

	case ControlStop:
		if job.IsTerminal() {
			return nil, NewValidationError(fmt.Errorf("cannot stop a %s job", job.Status))
		}
		if err := s.repo.MarkJobStatus(ctx, jobID, JobStatusStopped); err != nil {
			return nil, err
		}
		s.logger.Info("job stopped", "job_id", jobID)

	case ControlCancel:
		if job.IsTerminal() {
			return nil, NewValidationError(fmt.Errorf("cannot cancel a %s job", job.Status))
		}
		if err := s.repo.MarkJobStatus(ctx, jobID, JobStatusCancelled); err != nil {
			return nil, err
		}
		s.logger.Info("job cancelled", "job_id", jobID)

	default:
		return nil, NewValidationError(fmt.Errorf("unknown control action %q", action))
	}

	return s.repo.GetJob(ctx, jobID)
}
