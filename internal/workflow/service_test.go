package workflow

import (
	"context"
	"errors"
	"testing"
)

func newServiceEnv(t *testing.T) (*Service, *machineEnv) {
	t.Helper()
	env := newMachineEnv(t, nil)
	svc := NewService(env.repo, NewRegistry(), env.machine, env.state, testLogger())
	return svc, env
}

func TestService_SubmitJob(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	job, err := svc.SubmitJob(ctx, SubmitRequest{
		InputVideos: []string{"a.mp4"},
		Style:       "vlog",
	})
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if job.Status != JobStatusPending || job.JobType != JobTypeSingleVideo {
		t.Errorf("job = %+v", job)
	}
	if job.Source != JobSourceAPI {
		t.Errorf("source = %s, want api default", job.Source)
	}

	// The snapshot row exists from the moment of submission.
	snap, err := env.state.Snapshot(ctx, job.ID)
	if err != nil || snap == nil {
		t.Fatalf("Snapshot() = %v, %v", snap, err)
	}
}

func TestService_SubmitJob_MultiVideo(t *testing.T) {
	svc, _ := newServiceEnv(t)

	job, err := svc.SubmitJob(context.Background(), SubmitRequest{
		InputVideos: []string{"a.mp4", "b.mp4"},
		Style:       "vlog",
	})
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if job.JobType != JobTypeMultiVideo {
		t.Errorf("job type = %s, want multi", job.JobType)
	}
}

func TestService_SubmitJob_Rejections(t *testing.T) {
	svc, _ := newServiceEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"no videos", SubmitRequest{Style: "vlog"}},
		{"empty video entry", SubmitRequest{InputVideos: []string{"a.mp4", ""}}},
		{"bad config json", SubmitRequest{InputVideos: []string{"a.mp4"}, Config: "{not json"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitJob(ctx, tc.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if Classify(err) != ClassValidation {
				t.Errorf("class = %s, want validation", Classify(err))
			}
		})
	}
}

func TestService_Status(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	job, err := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"a.mp4"}, Style: "vlog"})
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if err := env.machine.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := svc.Advance(ctx, job.ID); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	status, err := svc.Status(ctx, job.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Job.Status != JobStatusProcessing {
		t.Errorf("status = %s", status.Job.Status)
	}
	if status.Stage == "" {
		t.Error("stage label missing")
	}
	if len(status.History) == 0 || status.LatestStep == nil {
		t.Error("history projection missing")
	}

	if _, err := svc.Status(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestService_ListJobs_StatusFilter(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	a, _ := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"a.mp4"}})
	if _, err := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"b.mp4"}}); err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if err := env.machine.Start(ctx, a.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pending, err := svc.ListJobs(ctx, JobStatusPending, 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending jobs = %d, want 1", len(pending))
	}

	all, err := svc.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all jobs = %d, want 2", len(all))
	}
}

func TestService_Control_PauseResume(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	job, _ := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"a.mp4"}})
	if err := env.machine.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := svc.Control(ctx, job.ID, ControlPause); err != nil {
		t.Fatalf("Control(pause) error = %v", err)
	}

	// The pause lands on the next advance, at the step boundary.
	res, err := svc.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomePaused {
		t.Fatalf("outcome = %s, want paused", res.Outcome)
	}

	resumed, err := svc.Control(ctx, job.ID, ControlResume)
	if err != nil {
		t.Fatalf("Control(resume) error = %v", err)
	}
	if resumed.Status != JobStatusProcessing {
		t.Errorf("status after resume = %s", resumed.Status)
	}
}

func TestService_Control_Guards(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	job, _ := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"a.mp4"}})

	// Resuming a job that is not paused is rejected.
	if _, err := svc.Control(ctx, job.ID, ControlResume); Classify(err) != ClassValidation {
		t.Errorf("resume pending: error = %v, want validation", err)
	}

	// Terminal jobs accept no further signals.
	if err := env.repo.MarkJobStatus(ctx, job.ID, JobStatusCompleted); err != nil {
		t.Fatalf("MarkJobStatus() error = %v", err)
	}
	for _, action := range []string{ControlPause, ControlStop, ControlCancel} {
		if _, err := svc.Control(ctx, job.ID, action); Classify(err) != ClassValidation {
			t.Errorf("%s on completed job: error = %v, want validation", action, err)
		}
	}

	if _, err := svc.Control(ctx, job.ID, "defenestrate"); Classify(err) != ClassValidation {
		t.Errorf("unknown action: error = %v, want validation", err)
	}

	if _, err := svc.Control(ctx, "nope", ControlPause); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job: error = %v, want ErrJobNotFound", err)
	}
}

func TestService_Control_StopAndCancel(t *testing.T) {
	svc, env := newServiceEnv(t)
	ctx := context.Background()

	stop, _ := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"a.mp4"}})
	if err := env.machine.Start(ctx, stop.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopped, err := svc.Control(ctx, stop.ID, ControlStop)
	if err != nil {
		t.Fatalf("Control(stop) error = %v", err)
	}
	if stopped.Status != JobStatusStopped {
		t.Errorf("status = %s, want stopped", stopped.Status)
	}

	cancel, _ := svc.SubmitJob(ctx, SubmitRequest{InputVideos: []string{"b.mp4"}})
	cancelled, err := svc.Control(ctx, cancel.ID, ControlCancel)
	if err != nil {
		t.Fatalf("Control(cancel) error = %v", err)
	}
	if cancelled.Status != JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// A stopped job never advances again.
	res, err := svc.Advance(ctx, stop.ID)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeNoop {
		t.Errorf("outcome = %s, want noop", res.Outcome)
	}
}
