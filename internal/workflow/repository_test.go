package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/archplay/chuangcut-engine/internal/db"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewRepository(database.Conn())
}

func newTestJob(t *testing.T, repo Repository) *Job {
	t.Helper()

	nowT := time.Now().UTC()
	job := &Job{
		ID:          NewID(),
		Status:      JobStatusPending,
		JobType:     JobTypeSingleVideo,
		InputVideos: []string{"source.mp4"},
		Style:       "documentary",
		Source:      JobSourceAPI,
		CreatedAt:   nowT,
		UpdatedAt:   nowT,
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func TestRepository_JobRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newTestJob(t, repo)

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil for existing job")
	}
	if got.Status != JobStatusPending || got.JobType != JobTypeSingleVideo {
		t.Errorf("job = %+v", got)
	}
	if len(got.InputVideos) != 1 || got.InputVideos[0] != "source.mp4" {
		t.Errorf("input videos = %v", got.InputVideos)
	}

	missing, err := repo.GetJob(ctx, "nope")
	if err != nil {
		t.Fatalf("GetJob(missing) error = %v", err)
	}
	if missing != nil {
		t.Error("GetJob(missing) should return nil")
	}
}

func TestRepository_JobLifecycleMarks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newTestJob(t, repo)

	if err := repo.MarkJobStarted(ctx, job.ID, StepAnalysis); err != nil {
		t.Fatalf("MarkJobStarted() error = %v", err)
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusProcessing || got.CurrentStep != StepAnalysis {
		t.Errorf("after start: status=%s step=%s", got.Status, got.CurrentStep)
	}
	if got.StartedAt == nil {
		t.Error("started_at not set")
	}

	if err := repo.MarkJobFailed(ctx, job.ID, "boom", `{"class":"fatal"}`); err != nil {
		t.Fatalf("MarkJobFailed() error = %v", err)
	}
	got, _ = repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed || got.ErrorMessage != "boom" {
		t.Errorf("after fail: status=%s error=%s", got.Status, got.ErrorMessage)
	}
	if got.ErrorMetadata != `{"class":"fatal"}` {
		t.Errorf("error metadata = %s", got.ErrorMetadata)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on failure")
	}
}

func TestRepository_ListJobsByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	j1 := newTestJob(t, repo)
	j2 := newTestJob(t, repo)
	if err := repo.MarkJobStatus(ctx, j2.ID, JobStatusProcessing); err != nil {
		t.Fatalf("MarkJobStatus() error = %v", err)
	}

	pending, err := repo.ListJobsByStatus(ctx, JobStatusPending, 10)
	if err != nil {
		t.Fatalf("ListJobsByStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != j1.ID {
		t.Errorf("pending jobs = %v", pending)
	}
}

func TestRepository_ScenesOrderAndPatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := newTestJob(t, repo)

	nowT := time.Now().UTC()
	scenes := []*Scene{
		{ID: NewID(), JobID: job.ID, SceneIndex: 1, SourceVideo: "a.mp4", StartTime: "00:00:05.000", EndTime: "00:00:10.000", DurationSeconds: 5, CreatedAt: nowT, UpdatedAt: nowT},
		{ID: NewID(), JobID: job.ID, SceneIndex: 0, SourceVideo: "a.mp4", StartTime: "00:00:00.000", EndTime: "00:00:05.000", DurationSeconds: 5, Narrations: []string{"hello"}, CreatedAt: nowT, UpdatedAt: nowT},
	}
	if err := repo.CreateScenes(ctx, scenes); err != nil {
		t.Fatalf("CreateScenes() error = %v", err)
	}

	listed, err := repo.ListScenesByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListScenesByJob() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("scene count = %d, want 2", len(listed))
	}
	if listed[0].SceneIndex != 0 || listed[1].SceneIndex != 1 {
		t.Errorf("scenes not ordered by index: %d, %d", listed[0].SceneIndex, listed[1].SceneIndex)
	}
	if len(listed[0].Narrations) != 1 || listed[0].Narrations[0] != "hello" {
		t.Errorf("narrations = %v", listed[0].Narrations)
	}

	clip := "clip://1.mp4"
	reason := "split failed"
	if err := repo.PatchScene(ctx, scenes[0].ID, ScenePatch{ClipPath: &clip, FailureReason: &reason}); err != nil {
		t.Fatalf("PatchScene() error = %v", err)
	}

	got, err := repo.GetScene(ctx, scenes[0].ID)
	if err != nil {
		t.Fatalf("GetScene() error = %v", err)
	}
	if got.ClipPath != clip || got.FailureReason != reason {
		t.Errorf("patched scene = %+v", got)
	}
	// Untouched fields survive a partial patch.
	if got.StartTime != "00:00:05.000" {
		t.Errorf("start time = %s", got.StartTime)
	}

	// Clearing a field with an empty value nulls it.
	empty := ""
	if err := repo.PatchScene(ctx, scenes[0].ID, ScenePatch{FailureReason: &empty}); err != nil {
		t.Fatalf("PatchScene(clear) error = %v", err)
	}
	got, _ = repo.GetScene(ctx, scenes[0].ID)
	if got.FailureReason != "" {
		t.Errorf("failure reason = %q, want cleared", got.FailureReason)
	}
}

func TestRepository_StepEntryFreeze(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := newTestJob(t, repo)

	nowT := time.Now().UTC()
	entry := &StepHistoryEntry{
		ID:        NewID(),
		JobID:     job.ID,
		MajorStep: StepAnalysis,
		SubStep:   SubStepAnalyzeVideo,
		StepType:  "llm",
		Status:    EntryStatusRunning,
		Attempt:   1,
		StartedAt: nowT,
		CreatedAt: nowT,
	}
	if err := repo.InsertStepEntry(ctx, entry); err != nil {
		t.Fatalf("InsertStepEntry() error = %v", err)
	}

	if err := repo.FinishStepEntry(ctx, entry.ID, EntryStatusCompleted, "", 0, `{"ok":true}`); err != nil {
		t.Fatalf("FinishStepEntry() error = %v", err)
	}

	// A terminal row is frozen.
	err := repo.FinishStepEntry(ctx, entry.ID, EntryStatusFailed, "late", 0, "")
	if !errors.Is(err, ErrEntryFrozen) {
		t.Fatalf("re-finishing terminal entry: error = %v, want ErrEntryFrozen", err)
	}

	got, _ := repo.GetStepEntry(ctx, entry.ID)
	if got.Status != EntryStatusCompleted || got.OutputData != `{"ok":true}` {
		t.Errorf("entry = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestRepository_LatestAttemptAndCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := newTestJob(t, repo)

	nowT := time.Now().UTC()
	for attempt := 1; attempt <= 3; attempt++ {
		entry := &StepHistoryEntry{
			ID:        NewID(),
			JobID:     job.ID,
			MajorStep: StepAnalysis,
			SubStep:   SubStepAnalyzeVideo,
			StepType:  "llm",
			Status:    EntryStatusFailed,
			Attempt:   attempt,
			StartedAt: nowT,
			CreatedAt: nowT,
		}
		if err := repo.InsertStepEntry(ctx, entry); err != nil {
			t.Fatalf("InsertStepEntry() error = %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, job.ID, SubStepAnalyzeVideo, "")
	if err != nil {
		t.Fatalf("CountAttempts() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	latest, err := repo.LatestAttempt(ctx, job.ID, SubStepAnalyzeVideo, "")
	if err != nil {
		t.Fatalf("LatestAttempt() error = %v", err)
	}
	if latest.Attempt != 3 {
		t.Errorf("latest attempt = %d, want 3", latest.Attempt)
	}

	none, err := repo.LatestAttempt(ctx, job.ID, SubStepComposeTimeline, "")
	if err != nil {
		t.Fatalf("LatestAttempt(never run) error = %v", err)
	}
	if none != nil {
		t.Error("LatestAttempt for a never-run sub-step should be nil")
	}
}

func TestRepository_JobStatePatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := newTestJob(t, repo)

	if err := repo.EnsureJobState(ctx, job.ID); err != nil {
		t.Fatalf("EnsureJobState() error = %v", err)
	}
	// Ensure is idempotent.
	if err := repo.EnsureJobState(ctx, job.ID); err != nil {
		t.Fatalf("EnsureJobState() second call error = %v", err)
	}

	paused := true
	pausedAt := time.Now().UTC()
	url := "https://cdn/final.mp4"
	if err := repo.PatchJobState(ctx, job.ID, StatePatch{IsPaused: &paused, PauseRequestedAt: &pausedAt, FinalVideoURL: &url}); err != nil {
		t.Fatalf("PatchJobState() error = %v", err)
	}

	state, err := repo.GetJobState(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobState() error = %v", err)
	}
	if !state.IsPaused || state.PauseRequestedAt == nil || state.FinalVideoURL != url {
		t.Errorf("state = %+v", state)
	}

	// A later patch leaves unrelated fields alone.
	unpaused := false
	if err := repo.PatchJobState(ctx, job.ID, StatePatch{IsPaused: &unpaused, ClearPauseRequestedAt: true}); err != nil {
		t.Fatalf("PatchJobState(clear) error = %v", err)
	}
	state, _ = repo.GetJobState(ctx, job.ID)
	if state.IsPaused || state.PauseRequestedAt != nil {
		t.Errorf("pause fields not cleared: %+v", state)
	}
	if state.FinalVideoURL != url {
		t.Errorf("final video url lost: %q", state.FinalVideoURL)
	}
}

func TestRepository_Locks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Fresh acquisition.
	if err := repo.TryAcquireLock(ctx, "job:1", "engine-a", time.Minute, ""); err != nil {
		t.Fatalf("TryAcquireLock() error = %v", err)
	}

	// A live lock blocks other owners.
	err := repo.TryAcquireLock(ctx, "job:1", "engine-b", time.Minute, "")
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second owner: error = %v, want ErrLockHeld", err)
	}

	// Re-acquisition by the same owner extends the lease.
	if err := repo.TryAcquireLock(ctx, "job:1", "engine-a", time.Minute, ""); err != nil {
		t.Fatalf("re-acquire by owner: error = %v", err)
	}

	// Release then acquire by the other owner.
	if err := repo.ReleaseLock(ctx, "job:1", "engine-a"); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if err := repo.TryAcquireLock(ctx, "job:1", "engine-b", time.Minute, ""); err != nil {
		t.Fatalf("acquire after release: error = %v", err)
	}
}

func TestRepository_LockExpiryReclaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// A lock whose TTL already elapsed is treated as absent.
	if err := repo.TryAcquireLock(ctx, "job:2", "dead-engine", -time.Second, ""); err != nil {
		t.Fatalf("TryAcquireLock(expired) error = %v", err)
	}

	if err := repo.TryAcquireLock(ctx, "job:2", "engine-b", time.Minute, ""); err != nil {
		t.Fatalf("reclaim of expired lock: error = %v", err)
	}

	lock, err := repo.GetLock(ctx, "job:2")
	if err != nil {
		t.Fatalf("GetLock() error = %v", err)
	}
	if lock.Owner != "engine-b" {
		t.Errorf("owner = %s, want engine-b", lock.Owner)
	}
}

func TestRepository_PurgeExpiredLocks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.TryAcquireLock(ctx, "job:stale", "a", -time.Second, ""); err != nil {
		t.Fatalf("TryAcquireLock() error = %v", err)
	}
	if err := repo.TryAcquireLock(ctx, "job:live", "a", time.Hour, ""); err != nil {
		t.Fatalf("TryAcquireLock() error = %v", err)
	}

	purged, err := repo.PurgeExpiredLocks(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("PurgeExpiredLocks() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	live, _ := repo.GetLock(ctx, "job:live")
	if live == nil {
		t.Error("live lock was purged")
	}
}

func TestRepository_ConfigKV(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	val, err := repo.GetConfig(ctx, "missing")
	if err != nil {
		t.Fatalf("GetConfig(missing) error = %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}

	if err := repo.SetConfig(ctx, "auth_token", "secret"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "rotated"); err != nil {
		t.Fatalf("SetConfig(update) error = %v", err)
	}

	val, _ = repo.GetConfig(ctx, "auth_token")
	if val != "rotated" {
		t.Errorf("value = %q, want rotated", val)
	}
}
