// Package media defines the engine's contract with the external media
// processing toolkit (split, speed, merge, caption, concatenate), with HTTP
// and stub implementations.
package media

import (
	"context"
	"fmt"
)

// TaskResult is the outcome of one remote media operation. TaskID is the
// remote job identifier recorded on the scene for traceability.
type TaskResult struct {
	TaskID          string  `json:"task_id"`
	OutputURL       string  `json:"output_url"`
	LocalPath       string  `json:"local_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// ComposeResult carries every location the final video is published to.
type ComposeResult struct {
	TaskID     string `json:"task_id"`
	VideoURL   string `json:"video_url"`
	PublicURL  string `json:"public_url,omitempty"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// Client is the media processing service. Every call is a blocking remote
// operation; implementations bound it with a timeout proportional to the
// media duration passed in.
type Client interface {
	// SplitScene cuts [start, end] out of the source video.
	SplitScene(ctx context.Context, source, start, end string, mediaSeconds float64) (*TaskResult, error)

	// AdjustSpeed retimes a clip by the given factor.
	AdjustSpeed(ctx context.Context, clip string, factor, mediaSeconds float64) (*TaskResult, error)

	// MergeAudioVideo replaces a clip's audio track.
	MergeAudioVideo(ctx context.Context, clip, audio string, mediaSeconds float64) (*TaskResult, error)

	// BurnSubtitle renders the narration text onto the clip.
	BurnSubtitle(ctx context.Context, clip, text string, mediaSeconds float64) (*TaskResult, error)

	// ComposeTimeline concatenates processed clips, in the order given,
	// into the final video.
	ComposeTimeline(ctx context.Context, clips []string, mediaSeconds float64) (*ComposeResult, error)
}

// TaskError is a classified failure from the media service.
type TaskError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("media %s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the operation may succeed on retry.
func (e *TaskError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Validation reports whether the service rejected the input itself.
func (e *TaskError) Validation() bool {
	return e.StatusCode == 422
}
