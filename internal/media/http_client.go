package media

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

const maxResponseBytes = 1 << 20

// HTTPClient talks to the media toolkit over HTTP. Transcode time scales
// with clip length, so timeouts grow with the media duration of each call.
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
		cfg.TimeoutBase = 2 * time.Minute
	}
	if cfg.TimeoutPerSec <= 0 {
		cfg.TimeoutPerSec = 2 * time.Second
	}
	if cfg.TimeoutCeiling <= 0 {
		cfg.TimeoutCeiling = time.Hour
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

func (c *HTTPClient) SplitScene(ctx context.Context, source, start, end string, mediaSeconds float64) (*TaskResult, error) {
	payload := map[string]interface{}{"video_url": source, "start": start, "end": end}
	return c.runTask(ctx, "split", "/v1/video/split", payload, mediaSeconds)
}

func (c *HTTPClient) AdjustSpeed(ctx context.Context, clip string, factor, mediaSeconds float64) (*TaskResult, error) {
	payload := map[string]interface{}{"video_url": clip, "factor": factor}
	return c.runTask(ctx, "speed", "/v1/video/speed", payload, mediaSeconds)
}

func (c *HTTPClient) MergeAudioVideo(ctx context.Context, clip, audio string, mediaSeconds float64) (*TaskResult, error) {
	payload := map[string]interface{}{"video_url": clip, "audio_url": audio}
	return c.runTask(ctx, "merge", "/v1/ffmpeg/merge", payload, mediaSeconds)
}

func (c *HTTPClient) BurnSubtitle(ctx context.Context, clip, text string, mediaSeconds float64) (*TaskResult, error) {
	payload := map[string]interface{}{"video_url": clip, "text": text}
	return c.runTask(ctx, "caption", "/v1/video/caption", payload, mediaSeconds)
}

func (c *HTTPClient) ComposeTimeline(ctx context.Context, clips []string, mediaSeconds float64) (*ComposeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(mediaSeconds))
	defer cancel()

	payload := map[string]interface{}{"video_urls": clips}
	var result ComposeResult
	if err := c.post(ctx, "concatenate", "/v1/video/concatenate", payload, &result); err != nil {
		return nil, err
	}

	c.logger.Info("timeline composed", "task_id", result.TaskID, "clips", len(clips))
	return &result, nil
}

func (c *HTTPClient) runTask(ctx context.Context, op, path string, payload map[string]interface{}, mediaSeconds float64) (*TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(mediaSeconds))
	defer cancel()

	var result TaskResult
	if err := c.post(ctx, op, path, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

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
		return &TaskError{Op: op, StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TaskError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
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
