package api

import (
	"github.com/archplay/chuangcut-engine/internal/workflow"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	EngineID string `json:"engine_id"`
}

type StatusResponse struct {
	State          string `json:"state"`
	JobsPending    int    `json:"jobs_pending"`
	JobsProcessing int    `json:"jobs_processing"`
	PollerRunning  bool   `json:"poller_running"`
	PollerPaused   bool   `json:"poller_paused"`
}

type SubmitJobRequest struct {
	InputVideos []string `json:"input_videos"`
	Style       string   `json:"style,omitempty"`
	Config      string   `json:"config,omitempty"`
	Source      string   `json:"source,omitempty"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type JobListResponse struct {
	Jobs []*workflow.Job `json:"jobs"`
}

type ControlRequest struct {
	Action string `json:"action"`
}

type AdvanceResponse struct {
	Result *workflow.AdvanceResult `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
