package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archplay/chuangcut-engine/internal/config"
	"github.com/archplay/chuangcut-engine/internal/workflow"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/jobs", submitJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/{id}/advance", advanceJobHandler(cfg))
		r.Post("/jobs/{id}/pause", controlJobHandler(cfg, workflow.ControlPause))
		r.Post("/jobs/{id}/resume", controlJobHandler(cfg, workflow.ControlResume))
		r.Post("/jobs/{id}/stop", controlJobHandler(cfg, workflow.ControlStop))
		r.Post("/jobs/{id}/cancel", controlJobHandler(cfg, workflow.ControlCancel))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			EngineID: cfg.EngineID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		pending, err := cfg.Service.ListJobs(ctx, workflow.JobStatusPending, 100)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}
		processing, err := cfg.Service.ListJobs(ctx, workflow.JobStatusProcessing, 100)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}

		state := "idle"
		if len(processing) > 0 {
			state = "processing"
		}

		resp := StatusResponse{
			State:          state,
			JobsPending:    len(pending),
			JobsProcessing: len(processing),
		}
		if cfg.Poller != nil {
			resp.PollerRunning = cfg.Poller.IsRunning()
			resp.PollerPaused = cfg.Poller.IsPaused()
			if resp.PollerPaused {
				resp.State = "paused"
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		source := req.Source
		if source == "" {
			source = workflow.JobSourceAPI
		}

		job, err := cfg.Service.SubmitJob(r.Context(), workflow.SubmitRequest{
			InputVideos: req.InputVideos,
			Style:       req.Style,
			Config:      req.Config,
			Source:      source,
		})
		if err != nil {
			writeWorkflowError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, SubmitJobResponse{JobID: job.ID, Status: job.Status})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		jobs, err := cfg.Service.ListJobs(r.Context(), status, 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		if jobs == nil {
			jobs = []*workflow.Job{}
		}
		WriteJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := cfg.Service.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

func advanceJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := cfg.Service.Advance(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		if result.Outcome == workflow.OutcomeConflict {
			WriteJSON(w, http.StatusConflict, AdvanceResponse{Result: result})
			return
		}
		WriteJSON(w, http.StatusOK, AdvanceResponse{Result: result})
	}
}

func controlJobHandler(cfg ServerConfig, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Control(r.Context(), chi.URLParam(r, "id"), action)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return
	}

	var se *workflow.StepError
	if errors.As(err, &se) && se.Class == workflow.ClassValidation {
		WriteError(w, http.StatusUnprocessableEntity, se.Error(), "VALIDATION_ERROR")
		return
	}

	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}
