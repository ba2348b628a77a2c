// Package ai defines the engine's contract with the external LLM analysis
// and TTS synthesis services, with HTTP and stub implementations.
package ai

import (
	"context"
	"fmt"
	"time"
)

// Storyboard is one AI-produced scene descriptor: boundaries in the source
// video plus narration candidates. Timestamps use the HH:MM:SS.mmm form.
type Storyboard struct {
	Index            int      `json:"index"`
	SourceVideo      string   `json:"source_video"`
	StartTime        string   `json:"start_time"`
	EndTime          string   `json:"end_time"`
	DurationSeconds  float64  `json:"duration_seconds"`
	Narrations       []string `json:"narrations,omitempty"`
	UseOriginalAudio bool     `json:"use_original_audio"`
}

// CacheHandle identifies a server-side LLM context cache created during
// analysis, reusable by later narration calls until it expires.
type CacheHandle struct {
	Name       string    `json:"name"`
	ExpiresAt  time.Time `json:"expires_at"`
	TokenCount int64     `json:"token_count"`
}

// StoryboardSet is the full analysis result for a job.
type StoryboardSet struct {
	VideoDurationSeconds float64      `json:"video_duration_seconds"`
	Storyboards          []Storyboard `json:"storyboards"`
	Cache                *CacheHandle `json:"cache,omitempty"`
}

type AnalyzeRequest struct {
	JobID  string   `json:"job_id"`
	Videos []string `json:"videos"`
	Style  string   `json:"style"`
	Config string   `json:"config,omitempty"`
}

type NarrationRequest struct {
	JobID           string  `json:"job_id"`
	SceneIndex      int     `json:"scene_index"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	DurationSeconds float64 `json:"duration_seconds"`
	Style           string  `json:"style"`
	CacheName       string  `json:"cache_name,omitempty"`
}

type SynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// AudioArtifact is one synthesized narration take.
type AudioArtifact struct {
	URL             string  `json:"url"`
	LocalPath       string  `json:"local_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Analyzer is the LLM-backed scene analysis service.
type Analyzer interface {
	// AnalyzeVideo produces storyboards for a job's source video(s).
	AnalyzeVideo(ctx context.Context, req AnalyzeRequest) (*StoryboardSet, error)

	// GenerateNarrations produces narration script candidates for one scene.
	GenerateNarrations(ctx context.Context, req NarrationRequest) ([]string, error)
}

// Synthesizer is the TTS service.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioArtifact, error)
}

// ServiceError is a classified failure from the AI services.
type ServiceError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the call may succeed on retry: server errors,
// rate limiting and transport failures (status 0) qualify.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Validation reports whether the service rejected the input itself.
func (e *ServiceError) Validation() bool {
	return e.StatusCode == 422
}
