package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Repository is the persistence interface the orchestration core reads and
// writes. It carries no business logic.
type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]*Job, error)
	SetJobCurrentStep(ctx context.Context, id, step string) error
	MarkJobStarted(ctx context.Context, id, step string) error
	MarkJobStatus(ctx context.Context, id, status string) error
	MarkJobCompleted(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, message, metadata string) error

	CreateScenes(ctx context.Context, scenes []*Scene) error
	GetScene(ctx context.Context, id string) (*Scene, error)
	ListScenesByJob(ctx context.Context, jobID string) ([]*Scene, error)
	PatchScene(ctx context.Context, id string, patch ScenePatch) error

	InsertStepEntry(ctx context.Context, entry *StepHistoryEntry) error
	GetStepEntry(ctx context.Context, id string) (*StepHistoryEntry, error)
	FinishStepEntry(ctx context.Context, id, status, errorMsg string, retryDelayMs int64, outputData string) error
	LatestAttempt(ctx context.Context, jobID, subStep, sceneID string) (*StepHistoryEntry, error)
	CountAttempts(ctx context.Context, jobID, subStep, sceneID string) (int, error)
	ListStepEntries(ctx context.Context, jobID string, limit int) ([]*StepHistoryEntry, error)

	GetJobState(ctx context.Context, jobID string) (*JobState, error)
	EnsureJobState(ctx context.Context, jobID string) error
	PatchJobState(ctx context.Context, jobID string, patch StatePatch) error

	TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration, metadata string) error
	ReleaseLock(ctx context.Context, key, owner string) error
	GetLock(ctx context.Context, key string) (*Lock, error)
	PurgeExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// ScenePatch is a partial update of a scene row. Nil fields are left
// untouched; the update is built dynamically and applied in one statement.
type ScenePatch struct {
	StartTime        *string
	EndTime          *string
	DurationSeconds  *float64
	Narrations       *[]string
	UseOriginalAudio *bool
	IsPaused         *bool
	IsSkipped        *bool
	FailureReason    *string
	AudioCandidates  *string
	ClipPath         *string
	SplitTaskID      *string
	SpeedTaskID      *string
	MergeTaskID      *string
	SubtitleTaskID   *string
}

// StatePatch is a partial, last-write-wins update of the job snapshot.
// Callers must hold the job's lock before patching.
type StatePatch struct {
	IsPaused              *bool
	PauseRequestedAt      *time.Time
	ClearPauseRequestedAt bool
	CacheName             *string
	CacheExpiresAt        *time.Time
	CacheTokenCount       *int64
	FinalVideoURL         *string
	FinalPublicURL        *string
	FinalStorageURI       *string
	FinalLocalPath        *string
	OutputMetadata        *string
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// --- jobs ---

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	inputs, err := json.Marshal(j.InputVideos)
	if err != nil {
		return fmt.Errorf("marshal input videos: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, current_step, job_type, input_videos, style, config,
			error_message, error_metadata, source, token_ref, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, nullString(j.CurrentStep), j.JobType, string(inputs), j.Style,
		nullString(j.Config), nullString(j.ErrorMessage), nullString(j.ErrorMetadata),
		j.Source, nullString(j.TokenRef),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339),
		nullTime(j.StartedAt), nullTime(j.CompletedAt))
	return err
}

const jobColumns = `id, status, current_step, job_type, input_videos, style, config,
	error_message, error_metadata, source, token_ref, created_at, updated_at, started_at, completed_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) SetJobCurrentStep(ctx context.Context, id, step string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET current_step = ?, updated_at = ? WHERE id = ?
	`, nullString(step), now(), id)
	return err
}

func (r *SQLiteRepository) MarkJobStarted(ctx context.Context, id, step string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, current_step = ?, started_at = ?, updated_at = ? WHERE id = ?
	`, JobStatusProcessing, step, now(), now(), id)
	return err
}

func (r *SQLiteRepository) MarkJobStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?
	`, status, now(), id)
	return err
}

func (r *SQLiteRepository) MarkJobCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?
	`, JobStatusCompleted, now(), now(), id)
	return err
}

func (r *SQLiteRepository) MarkJobFailed(ctx context.Context, id, message, metadata string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, error_metadata = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, JobStatusFailed, nullString(message), nullString(metadata), now(), now(), id)
	return err
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var currentStep, config, errMsg, errMeta, tokenRef sql.NullString
	var inputs, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&j.ID, &j.Status, &currentStep, &j.JobType, &inputs, &j.Style, &config,
		&errMsg, &errMeta, &j.Source, &tokenRef, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fillJob(&j, currentStep, config, errMsg, errMeta, tokenRef, inputs, createdAt, updatedAt, startedAt, completedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		var currentStep, config, errMsg, errMeta, tokenRef sql.NullString
		var inputs, createdAt, updatedAt string
		var startedAt, completedAt sql.NullString

		if err := rows.Scan(&j.ID, &j.Status, &currentStep, &j.JobType, &inputs, &j.Style, &config,
			&errMsg, &errMeta, &j.Source, &tokenRef, &createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		fillJob(&j, currentStep, config, errMsg, errMeta, tokenRef, inputs, createdAt, updatedAt, startedAt, completedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func fillJob(j *Job, currentStep, config, errMsg, errMeta, tokenRef sql.NullString,
	inputs, createdAt, updatedAt string, startedAt, completedAt sql.NullString) {
	j.CurrentStep = currentStep.String
	j.Config = config.String
	j.ErrorMessage = errMsg.String
	j.ErrorMetadata = errMeta.String
	j.TokenRef = tokenRef.String
	_ = json.Unmarshal([]byte(inputs), &j.InputVideos)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(completedAt)
}

// --- scenes ---

const sceneColumns = `id, job_id, scene_index, source_video, start_time, end_time, duration_seconds,
	narrations, use_original_audio, is_paused, is_skipped, failure_reason, audio_candidates,
	clip_path, split_task_id, speed_task_id, merge_task_id, subtitle_task_id, created_at, updated_at`

func (r *SQLiteRepository) CreateScenes(ctx context.Context, scenes []*Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range scenes {
		narrations, err := json.Marshal(s.Narrations)
		if err != nil {
			return fmt.Errorf("marshal narrations: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scenes (`+sceneColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.JobID, s.SceneIndex, s.SourceVideo, s.StartTime, s.EndTime, s.DurationSeconds,
			string(narrations), boolToInt(s.UseOriginalAudio), boolToInt(s.IsPaused), boolToInt(s.IsSkipped),
			nullString(s.FailureReason), nullString(s.AudioCandidates), nullString(s.ClipPath),
			nullString(s.SplitTaskID), nullString(s.SpeedTaskID), nullString(s.MergeTaskID), nullString(s.SubtitleTaskID),
			s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetScene(ctx context.Context, id string) (*Scene, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scenes, err := scanScenes(rows)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, nil
	}
	return scenes[0], nil
}

func (r *SQLiteRepository) ListScenesByJob(ctx context.Context, jobID string) ([]*Scene, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sceneColumns+` FROM scenes WHERE job_id = ? ORDER BY scene_index ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScenes(rows)
}

func scanScenes(rows *sql.Rows) ([]*Scene, error) {
	var scenes []*Scene
	for rows.Next() {
		var s Scene
		var narrations, createdAt, updatedAt string
		var useOriginal, isPaused, isSkipped int
		var failureReason, audioCandidates, clipPath, splitID, speedID, mergeID, subtitleID sql.NullString

		if err := rows.Scan(&s.ID, &s.JobID, &s.SceneIndex, &s.SourceVideo, &s.StartTime, &s.EndTime,
			&s.DurationSeconds, &narrations, &useOriginal, &isPaused, &isSkipped,
			&failureReason, &audioCandidates, &clipPath, &splitID, &speedID, &mergeID, &subtitleID,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(narrations), &s.Narrations)
		s.UseOriginalAudio = useOriginal == 1
		s.IsPaused = isPaused == 1
		s.IsSkipped = isSkipped == 1
		s.FailureReason = failureReason.String
		s.AudioCandidates = audioCandidates.String
		s.ClipPath = clipPath.String
		s.SplitTaskID = splitID.String
		s.SpeedTaskID = speedID.String
		s.MergeTaskID = mergeID.String
		s.SubtitleTaskID = subtitleID.String
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		scenes = append(scenes, &s)
	}
	return scenes, rows.Err()
}

func (r *SQLiteRepository) PatchScene(ctx context.Context, id string, p ScenePatch) error {
	sets := []string{}
	args := []interface{}{}

	if p.StartTime != nil {
		sets = append(sets, "start_time = ?")
		args = append(args, *p.StartTime)
	}
	if p.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, *p.EndTime)
	}
	if p.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = ?")
		args = append(args, *p.DurationSeconds)
	}
	if p.Narrations != nil {
		b, err := json.Marshal(*p.Narrations)
		if err != nil {
			return fmt.Errorf("marshal narrations: %w", err)
		}
		sets = append(sets, "narrations = ?")
		args = append(args, string(b))
	}
	if p.UseOriginalAudio != nil {
		sets = append(sets, "use_original_audio = ?")
		args = append(args, boolToInt(*p.UseOriginalAudio))
	}
	if p.IsPaused != nil {
		sets = append(sets, "is_paused = ?")
		args = append(args, boolToInt(*p.IsPaused))
	}
	if p.IsSkipped != nil {
		sets = append(sets, "is_skipped = ?")
		args = append(args, boolToInt(*p.IsSkipped))
	}
	if p.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, nullString(*p.FailureReason))
	}
	if p.AudioCandidates != nil {
		sets = append(sets, "audio_candidates = ?")
		args = append(args, nullString(*p.AudioCandidates))
	}
	if p.ClipPath != nil {
		sets = append(sets, "clip_path = ?")
		args = append(args, nullString(*p.ClipPath))
	}
	if p.SplitTaskID != nil {
		sets = append(sets, "split_task_id = ?")
		args = append(args, nullString(*p.SplitTaskID))
	}
	if p.SpeedTaskID != nil {
		sets = append(sets, "speed_task_id = ?")
		args = append(args, nullString(*p.SpeedTaskID))
	}
	if p.MergeTaskID != nil {
		sets = append(sets, "merge_task_id = ?")
		args = append(args, nullString(*p.MergeTaskID))
	}
	if p.SubtitleTaskID != nil {
		sets = append(sets, "subtitle_task_id = ?")
		args = append(args, nullString(*p.SubtitleTaskID))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)

	query := fmt.Sprintf("UPDATE scenes SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// --- step history ---

const entryColumns = `id, job_id, scene_id, major_step, sub_step, step_type, status, attempt,
	retry_delay_ms, started_at, completed_at, duration_ms, error_message,
	input_data, step_metadata, output_data, created_at`

func (r *SQLiteRepository) InsertStepEntry(ctx context.Context, e *StepHistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO step_history (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.JobID, nullString(e.SceneID), e.MajorStep, e.SubStep, e.StepType, e.Status, e.Attempt,
		e.RetryDelayMs, e.StartedAt.Format(time.RFC3339), nullTime(e.CompletedAt), e.DurationMs,
		nullString(e.ErrorMessage), nullString(e.InputData), nullString(e.StepMetadata),
		nullString(e.OutputData), e.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetStepEntry(ctx context.Context, id string) (*StepHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM step_history WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// FinishStepEntry moves a running attempt to a terminal status. Terminal
// rows are frozen: updating one returns ErrEntryFrozen.
func (r *SQLiteRepository) FinishStepEntry(ctx context.Context, id, status, errorMsg string, retryDelayMs int64, outputData string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE step_history
		SET status = ?, error_message = ?, retry_delay_ms = ?, output_data = ?,
			completed_at = ?,
			duration_ms = CAST((julianday('now') - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ? AND status IN (?, ?)
	`, status, nullString(errorMsg), retryDelayMs, nullString(outputData), now(), id,
		EntryStatusPending, EntryStatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryFrozen
	}
	return nil
}

func (r *SQLiteRepository) LatestAttempt(ctx context.Context, jobID, subStep, sceneID string) (*StepHistoryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM step_history WHERE job_id = ? AND sub_step = ?`
	args := []interface{}{jobID, subStep}
	if sceneID != "" {
		query += ` AND scene_id = ?`
		args = append(args, sceneID)
	}
	query += ` ORDER BY attempt DESC LIMIT 1`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (r *SQLiteRepository) CountAttempts(ctx context.Context, jobID, subStep, sceneID string) (int, error) {
	query := `SELECT COUNT(*) FROM step_history WHERE job_id = ? AND sub_step = ?`
	args := []interface{}{jobID, subStep}
	if sceneID != "" {
		query += ` AND scene_id = ?`
		args = append(args, sceneID)
	}
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) ListStepEntries(ctx context.Context, jobID string, limit int) ([]*StepHistoryEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM step_history WHERE job_id = ?
		ORDER BY created_at DESC, attempt DESC LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*StepHistoryEntry, error) {
	var entries []*StepHistoryEntry
	for rows.Next() {
		var e StepHistoryEntry
		var sceneID, completedAt, errMsg, inputData, stepMeta, outputData sql.NullString
		var startedAt, createdAt string

		if err := rows.Scan(&e.ID, &e.JobID, &sceneID, &e.MajorStep, &e.SubStep, &e.StepType,
			&e.Status, &e.Attempt, &e.RetryDelayMs, &startedAt, &completedAt, &e.DurationMs,
			&errMsg, &inputData, &stepMeta, &outputData, &createdAt); err != nil {
			return nil, err
		}
		e.SceneID = sceneID.String
		e.ErrorMessage = errMsg.String
		e.InputData = inputData.String
		e.StepMetadata = stepMeta.String
		e.OutputData = outputData.String
		e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		e.CompletedAt = parseNullTime(completedAt)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- job state snapshot ---

func (r *SQLiteRepository) GetJobState(ctx context.Context, jobID string) (*JobState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, is_paused, pause_requested_at, cache_name, cache_expires_at, cache_token_count,
			final_video_url, final_public_url, final_storage_uri, final_local_path, output_metadata, updated_at
		FROM job_state WHERE job_id = ?
	`, jobID)

	var s JobState
	var isPaused int
	var pauseAt, cacheName, cacheExpires, videoURL, publicURL, storageURI, localPath, outputMeta sql.NullString
	var cacheTokens sql.NullInt64
	var updatedAt string

	err := row.Scan(&s.JobID, &isPaused, &pauseAt, &cacheName, &cacheExpires, &cacheTokens,
		&videoURL, &publicURL, &storageURI, &localPath, &outputMeta, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.IsPaused = isPaused == 1
	s.PauseRequestedAt = parseNullTime(pauseAt)
	s.CacheName = cacheName.String
	s.CacheExpiresAt = parseNullTime(cacheExpires)
	s.CacheTokenCount = cacheTokens.Int64
	s.FinalVideoURL = videoURL.String
	s.FinalPublicURL = publicURL.String
	s.FinalStorageURI = storageURI.String
	s.FinalLocalPath = localPath.String
	s.OutputMetadata = outputMeta.String
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) EnsureJobState(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_state (job_id, is_paused, updated_at) VALUES (?, 0, ?)
		ON CONFLICT(job_id) DO NOTHING
	`, jobID, now())
	return err
}

func (r *SQLiteRepository) PatchJobState(ctx context.Context, jobID string, p StatePatch) error {
	sets := []string{}
	args := []interface{}{}

	if p.IsPaused != nil {
		sets = append(sets, "is_paused = ?")
		args = append(args, boolToInt(*p.IsPaused))
	}
	if p.ClearPauseRequestedAt {
		sets = append(sets, "pause_requested_at = NULL")
	} else if p.PauseRequestedAt != nil {
		sets = append(sets, "pause_requested_at = ?")
		args = append(args, p.PauseRequestedAt.Format(time.RFC3339))
	}
	if p.CacheName != nil {
		sets = append(sets, "cache_name = ?")
		args = append(args, nullString(*p.CacheName))
	}
	if p.CacheExpiresAt != nil {
		sets = append(sets, "cache_expires_at = ?")
		args = append(args, p.CacheExpiresAt.Format(time.RFC3339))
	}
	if p.CacheTokenCount != nil {
		sets = append(sets, "cache_token_count = ?")
		args = append(args, *p.CacheTokenCount)
	}
	if p.FinalVideoURL != nil {
		sets = append(sets, "final_video_url = ?")
		args = append(args, nullString(*p.FinalVideoURL))
	}
	if p.FinalPublicURL != nil {
		sets = append(sets, "final_public_url = ?")
		args = append(args, nullString(*p.FinalPublicURL))
	}
	if p.FinalStorageURI != nil {
		sets = append(sets, "final_storage_uri = ?")
		args = append(args, nullString(*p.FinalStorageURI))
	}
	if p.FinalLocalPath != nil {
		sets = append(sets, "final_local_path = ?")
		args = append(args, nullString(*p.FinalLocalPath))
	}
	if p.OutputMetadata != nil {
		sets = append(sets, "output_metadata = ?")
		args = append(args, nullString(*p.OutputMetadata))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now(), jobID)

	query := fmt.Sprintf("UPDATE job_state SET %s WHERE job_id = ?", strings.Join(sets, ", "))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// --- locks ---

// TryAcquireLock takes the lock when the row is absent, expired, or already
// owned by the same owner (re-acquire extends the expiry). A non-expired
// lock held by a different owner yields ErrLockHeld.
func (r *SQLiteRepository) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration, metadata string) error {
	acquiredAt := time.Now().UTC()
	expiresAt := acquiredAt.Add(ttl)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO locks (key, owner, acquired_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata
		WHERE locks.owner = excluded.owner OR locks.expires_at <= excluded.acquired_at
	`, key, owner, acquiredAt.Format(time.RFC3339Nano), expiresAt.Format(time.RFC3339Nano), nullString(metadata))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (r *SQLiteRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND owner = ?`, key, owner)
	return err
}

func (r *SQLiteRepository) GetLock(ctx context.Context, key string) (*Lock, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key, owner, acquired_at, expires_at, metadata FROM locks WHERE key = ?
	`, key)

	var l Lock
	var acquiredAt, expiresAt string
	var metadata sql.NullString
	err := row.Scan(&l.Key, &l.Owner, &acquiredAt, &expiresAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.AcquiredAt, _ = time.Parse(time.RFC3339Nano, acquiredAt)
	l.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	l.Metadata = metadata.String
	return &l, nil
}

func (r *SQLiteRepository) PurgeExpiredLocks(ctx context.Context, nowT time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE expires_at <= ?`, nowT.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- config KV ---

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// --- helpers ---

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
