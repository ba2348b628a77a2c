package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/archplay/chuangcut-engine/internal/ai"
	"github.com/archplay/chuangcut-engine/internal/media"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation step error", NewValidationError(errors.New("bad input")), ClassValidation},
		{"fatal step error", NewFatalError(errors.New("broken")), ClassFatal},
		{"retryable service error", &ai.ServiceError{Op: "analyze", StatusCode: 503}, ClassTransient},
		{"rate limited", &media.TaskError{Op: "split", StatusCode: 429}, ClassTransient},
		{"transport failure", &media.TaskError{Op: "merge", StatusCode: 0}, ClassTransient},
		{"rejected input", &ai.ServiceError{Op: "tts", StatusCode: 422}, ClassValidation},
		{"client error", &media.TaskError{Op: "split", StatusCode: 404}, ClassFatal},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"cancelled", context.Canceled, ClassTransient},
		{"plain error", errors.New("something"), ClassFatal},
		{"wrapped retryable", fmt.Errorf("scene 2: %w", &media.TaskError{Op: "speed", StatusCode: 500}), ClassTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
		{0, time.Second},
	}

	for _, tc := range cases {
		if got := BackoffDelay(tc.attempt, base, max); got != tc.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
