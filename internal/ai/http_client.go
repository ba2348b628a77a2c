package ai

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseBytes = 1 << 20 // 1 MB cap on service responses

// HTTPClient talks to the AI gateway over HTTP. Analysis latency scales
// with source length, so per-call timeouts grow with the declared media
// duration rather than using one flat value.
type HTTPClient struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	logger         *slog.Logger
	timeoutBase    time.Duration
	timeoutPerSec  time.Duration
	timeoutCeiling time.Duration
}

type HTTPClientConfig struct {
	BaseURL        string
	Token          string
	TimeoutBase    time.Duration
	TimeoutPerSec  time.Duration
	TimeoutCeiling time.Duration
	Logger         *slog.Logger
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.TimeoutBase <= 0 {
		cfg.TimeoutBase = 60 * time.Second
	}
	if cfg.TimeoutPerSec <= 0 {
		cfg.TimeoutPerSec = 500 * time.Millisecond
	}
	if cfg.TimeoutCeiling <= 0 {
		cfg.TimeoutCeiling = 30 * time.Minute
	}
	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		httpClient:     &http.Client{},
		logger:         cfg.Logger,
		timeoutBase:    cfg.TimeoutBase,
		timeoutPerSec:  cfg.TimeoutPerSec,
		timeoutCeiling: cfg.TimeoutCeiling,
	}
}

func (c *HTTPClient) AnalyzeVideo(ctx context.Context, req AnalyzeRequest) (*StoryboardSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(0))
	defer cancel()

	var set StoryboardSet
	if err := c.post(ctx, "analyze", "/v1/analyze", req, &set); err != nil {
		return nil, err
	}

	c.logger.Info("video analysis complete",
		"job_id", req.JobID,
		"storyboards", len(set.Storyboards),
		"cached", set.Cache != nil,
	)
	return &set, nil
}

func (c *HTTPClient) GenerateNarrations(ctx context.Context, req NarrationRequest) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(req.DurationSeconds))
	defer cancel()

	var resp struct {
		Candidates []string `json:"candidates"`
	}
	if err := c.post(ctx, "narrations", "/v1/narrations", req, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

func (c *HTTPClient) Synthesize(ctx context.Context, req SynthesizeRequest) (*AudioArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(0))
	defer cancel()

	var artifact AudioArtifact
	if err := c.post(ctx, "synthesize", "/v1/tts", req, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// timeoutFor scales the call timeout with the media duration involved.
func (c *HTTPClient) timeoutFor(mediaSeconds float64) time.Duration {
	t := c.timeoutBase + time.Duration(mediaSeconds*float64(c.timeoutPerSec))
	if t > c.timeoutCeiling {
		return c.timeoutCeiling
	}
	return t
}

func (c *HTTPClient) post(ctx context.Context, op, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-Id", newRequestID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Op: op, StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse %s response: %w", op, err)
		}
	}
	return nil
}

func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
