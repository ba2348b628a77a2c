package workflow

import (
	"context"
	"log/slog"
	"time"
)

// StateManager owns the mutable per-job snapshot: the current-state cursor
// distinct from immutable step history. Patches merge last-write-wins;
// callers mutating through it must hold the job's distributed lock, except
// for the pause-request fields which are the sanctioned external control
// channel observed by the state machine at step boundaries.
type StateManager struct {
	repo   Repository
	logger *slog.Logger
}

func NewStateManager(repo Repository, logger *slog.Logger) *StateManager {
	return &StateManager{repo: repo, logger: logger}
}

// Snapshot returns the job's current-state row, creating the default row
// on first access so every job has exactly one snapshot.
func (m *StateManager) Snapshot(ctx context.Context, jobID string) (*JobState, error) {
	state, err := m.repo.GetJobState(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}
	if err := m.repo.EnsureJobState(ctx, jobID); err != nil {
		return nil, err
	}
	return m.repo.GetJobState(ctx, jobID)
}

// ApplyPatch merges partial fields into the snapshot, last-write-wins.
func (m *StateManager) ApplyPatch(ctx context.Context, jobID string, patch StatePatch) error {
	if err := m.repo.EnsureJobState(ctx, jobID); err != nil {
		return err
	}
	return m.repo.PatchJobState(ctx, jobID, patch)
}

// RequestPause sets is_paused and stamps pause_requested_at. The state
// machine honours it at the next step boundary.
func (m *StateManager) RequestPause(ctx context.Context, jobID string) error {
	paused := true
	nowT := time.Now().UTC()
	if err := m.ApplyPatch(ctx, jobID, StatePatch{IsPaused: &paused, PauseRequestedAt: &nowT}); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("pause requested", "job_id", jobID)
	}
	return nil
}

// ClearPause clears both pause fields on resume.
func (m *StateManager) ClearPause(ctx context.Context, jobID string) error {
	paused := false
	return m.ApplyPatch(ctx, jobID, StatePatch{IsPaused: &paused, ClearPauseRequestedAt: true})
}

// RecordFinalOutput writes the composition result locations once the
// compose stage completes.
func (m *StateManager) RecordFinalOutput(ctx context.Context, jobID string, videoURL, publicURL, storageURI, localPath, metadata string) error {
	return m.ApplyPatch(ctx, jobID, StatePatch{
		FinalVideoURL:   &videoURL,
		FinalPublicURL:  &publicURL,
		FinalStorageURI: &storageURI,
		FinalLocalPath:  &localPath,
		OutputMetadata:  &metadata,
	})
}

// RecordCacheHandle stores the LLM context-cache handle produced by the
// analysis step.
func (m *StateManager) RecordCacheHandle(ctx context.Context, jobID, name string, expiresAt time.Time, tokenCount int64) error {
	return m.ApplyPatch(ctx, jobID, StatePatch{
		CacheName:       &name,
		CacheExpiresAt:  &expiresAt,
		CacheTokenCount: &tokenCount,
	})
}
