package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archplay/chuangcut-engine/internal/ai"
	"github.com/archplay/chuangcut-engine/internal/db"
	"github.com/archplay/chuangcut-engine/internal/media"
	"github.com/archplay/chuangcut-engine/internal/workflow"
)

const testToken = "test-token"

type testStack struct {
	router   *chi.Mux
	repo     workflow.Repository
	service  *workflow.Service
	machine  *workflow.Machine
	database *db.DB
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := workflow.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("failed to store auth token: %v", err)
	}

	registry := workflow.NewRegistry()
	history := workflow.NewHistoryRecorder(repo, registry, logger)
	state := workflow.NewStateManager(repo, logger)
	locks := workflow.NewLockService(repo, "engine-test", time.Minute, logger)

	scenes := workflow.NewSceneController(workflow.SceneControllerConfig{
		Repo:        repo,
		History:     history,
		State:       state,
		Synthesizer: ai.NewStubSynthesizer(logger),
		Media:       media.NewStubClient(logger),
		Concurrency: 2,
		BackoffBase: time.Millisecond,
		Logger:      logger,
	})
	machine := workflow.NewMachine(workflow.MachineConfig{
		Repo:        repo,
		Registry:    registry,
		History:     history,
		State:       state,
		Locks:       locks,
		Analyzer:    ai.NewStubAnalyzer(logger),
		Media:       media.NewStubClient(logger),
		Scenes:      scenes,
		BackoffBase: time.Millisecond,
		Logger:      logger,
	})
	service := workflow.NewService(repo, registry, machine, state, logger)

	router := NewRouter(ServerConfig{
		Port:       0,
		Service:    service,
		Repository: repo,
		Logger:     logger,
		StartTime:  time.Now(),
		EngineID:   "engine-test",
	})

	return &testStack{router: router, repo: repo, service: service, machine: machine, database: database}
}

func (s *testStack) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testStack) submit(t *testing.T, videos ...string) string {
	t.Helper()

	rec := s.request(t, http.MethodPost, "/jobs", SubmitJobRequest{InputVideos: videos, Style: "vlog"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SubmitJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("submit: bad response: %v", err)
	}
	return resp.JobID
}

func TestHealthEndpoint_NoAuth(t *testing.T) {
	stack := newTestStack(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Status != "ok" || resp.EngineID != "engine-test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestSubmitJob(t *testing.T) {
	stack := newTestStack(t)

	jobID := stack.submit(t, "source.mp4")
	if jobID == "" {
		t.Fatal("empty job id")
	}

	rec := stack.request(t, http.MethodGet, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job: status = %d", rec.Code)
	}
	var status workflow.JobStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if status.Job.Status != workflow.JobStatusPending {
		t.Errorf("job status = %s", status.Job.Status)
	}
}

func TestSubmitJob_Invalid(t *testing.T) {
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodPost, "/jobs", SubmitJobRequest{Style: "vlog"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestSubmitJob_MalformedBody(t *testing.T) {
	stack := newTestStack(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodGet, "/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListJobs_StatusFilter(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	a := stack.submit(t, "a.mp4")
	stack.submit(t, "b.mp4")
	if err := stack.machine.Start(ctx, a); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := stack.request(t, http.MethodGet, "/jobs?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp JobListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Errorf("pending jobs = %d, want 1", len(resp.Jobs))
	}
}

func TestAdvanceEndpoint(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	jobID := stack.submit(t, "source.mp4")
	if err := stack.machine.Start(ctx, jobID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := stack.request(t, http.MethodPost, "/jobs/"+jobID+"/advance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp AdvanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Result.Outcome != workflow.OutcomeAdvanced {
		t.Errorf("outcome = %s", resp.Result.Outcome)
	}
}

func TestAdvanceEndpoint_LockConflict(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	jobID := stack.submit(t, "source.mp4")
	if err := stack.machine.Start(ctx, jobID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := stack.repo.TryAcquireLock(ctx, "job:"+jobID, "other-engine", time.Minute, ""); err != nil {
		t.Fatalf("TryAcquireLock() error = %v", err)
	}

	rec := stack.request(t, http.MethodPost, "/jobs/"+jobID+"/advance", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestControlEndpoints(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	jobID := stack.submit(t, "source.mp4")
	if err := stack.machine.Start(ctx, jobID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := stack.request(t, http.MethodPost, "/jobs/"+jobID+"/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d", rec.Code)
	}

	// The pause lands at the next step boundary.
	res := stack.request(t, http.MethodPost, "/jobs/"+jobID+"/advance", nil)
	var adv AdvanceResponse
	if err := json.Unmarshal(res.Body.Bytes(), &adv); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if adv.Result.Outcome != workflow.OutcomePaused {
		t.Fatalf("outcome = %s, want paused", adv.Result.Outcome)
	}

	rec = stack.request(t, http.MethodPost, "/jobs/"+jobID+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d", rec.Code)
	}
	var job workflow.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if job.Status != workflow.JobStatusProcessing {
		t.Errorf("status after resume = %s", job.Status)
	}

	rec = stack.request(t, http.MethodPost, "/jobs/"+jobID+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rec.Code)
	}

	// Terminal jobs reject further control.
	rec = stack.request(t, http.MethodPost, "/jobs/"+jobID+"/cancel", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cancel stopped job: status = %d, want 422", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	stack.submit(t, "a.mp4")
	b := stack.submit(t, "b.mp4")
	if err := stack.machine.Start(ctx, b); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := stack.request(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.JobsPending != 1 || resp.JobsProcessing != 1 {
		t.Errorf("counts = %+v", resp)
	}
	if resp.State != "processing" {
		t.Errorf("state = %s", resp.State)
	}
}

func TestStatusEndpoint_StoreFailure(t *testing.T) {
	stack := newTestStack(t)

	// A broken store must surface as an error, not as an idle engine.
	stack.database.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	statusHandler(ServerConfig{Service: stack.service})(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %s", resp.Code)
	}
}
