package workflow

import (
	"context"
	"log/slog"
	"time"
)

// HistoryRecorder appends immutable step-attempt records. A new execution
// of a sub-step is always a new row with the next attempt number; rows are
// only updated while moving pending -> running -> terminal within one
// attempt.
type HistoryRecorder struct {
	repo     Repository
	registry *Registry
	logger   *slog.Logger
}

func NewHistoryRecorder(repo Repository, registry *Registry, logger *slog.Logger) *HistoryRecorder {
	return &HistoryRecorder{repo: repo, registry: registry, logger: logger}
}

// BeginAttempt opens a new running attempt row for the given sub-step.
// The attempt number is the count of prior attempts plus one, so attempts
// form a contiguous sequence starting at 1.
func (h *HistoryRecorder) BeginAttempt(ctx context.Context, jobID, subStep, sceneID, inputData string) (*StepHistoryEntry, error) {
	def, known := h.registry.Lookup(subStep)
	if !known && h.logger != nil {
		h.logger.Warn("unregistered sub-step recorded as opaque", "sub_step", subStep)
	}

	prior, err := h.repo.CountAttempts(ctx, jobID, subStep, sceneID)
	if err != nil {
		return nil, err
	}

	nowT := time.Now().UTC()
	entry := &StepHistoryEntry{
		ID:        NewID(),
		JobID:     jobID,
		SceneID:   sceneID,
		MajorStep: def.MajorStep,
		SubStep:   subStep,
		StepType:  def.StepType,
		Status:    EntryStatusRunning,
		Attempt:   prior + 1,
		StartedAt: nowT,
		InputData: inputData,
		CreatedAt: nowT,
	}
	if err := h.repo.InsertStepEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CompleteAttempt freezes the attempt as completed with its output payload.
func (h *HistoryRecorder) CompleteAttempt(ctx context.Context, entryID, outputData string) error {
	return h.repo.FinishStepEntry(ctx, entryID, EntryStatusCompleted, "", 0, outputData)
}

// FailAttempt freezes the attempt as failed. retryDelayMs records the
// backoff the state machine scheduled, or zero when the failure is final.
func (h *HistoryRecorder) FailAttempt(ctx context.Context, entryID, errorMsg string, retryDelayMs int64) error {
	return h.repo.FinishStepEntry(ctx, entryID, EntryStatusFailed, errorMsg, retryDelayMs, "")
}

// SkipAttempt records a sub-step that was deliberately not executed, such
// as narration generation folding into cached analysis output.
func (h *HistoryRecorder) SkipAttempt(ctx context.Context, jobID, subStep, sceneID, reason string) (*StepHistoryEntry, error) {
	entry, err := h.BeginAttempt(ctx, jobID, subStep, sceneID, "")
	if err != nil {
		return nil, err
	}
	if err := h.repo.FinishStepEntry(ctx, entry.ID, EntryStatusSkipped, reason, 0, ""); err != nil {
		return nil, err
	}
	entry.Status = EntryStatusSkipped
	return entry, nil
}

// LatestAttempt returns the highest-attempt row for a sub-step, or nil when
// the sub-step has never run. The state machine uses it to decide retry
// eligibility.
func (h *HistoryRecorder) LatestAttempt(ctx context.Context, jobID, subStep, sceneID string) (*StepHistoryEntry, error) {
	return h.repo.LatestAttempt(ctx, jobID, subStep, sceneID)
}
