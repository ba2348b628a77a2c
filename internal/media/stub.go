package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StubClient fabricates media results locally so the engine can run end to
// end without the toolkit configured.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) SplitScene(ctx context.Context, source, start, end string, mediaSeconds float64) (*TaskResult, error) {
	c.logger.Info("media stub: split requested", "source", source, "start", start, "end", end)
	id := uuid.NewString()
	return &TaskResult{TaskID: id, OutputURL: fmt.Sprintf("stub://clips/%s.mp4", id), DurationSeconds: mediaSeconds}, nil
}

func (c *StubClient) AdjustSpeed(ctx context.Context, clip string, factor, mediaSeconds float64) (*TaskResult, error) {
	c.logger.Info("media stub: speed requested", "clip", clip, "factor", factor)
	id := uuid.NewString()
	out := mediaSeconds
	if factor > 0 {
		out = mediaSeconds / factor
	}
	return &TaskResult{TaskID: id, OutputURL: fmt.Sprintf("stub://clips/%s.mp4", id), DurationSeconds: out}, nil
}

func (c *StubClient) MergeAudioVideo(ctx context.Context, clip, audio string, mediaSeconds float64) (*TaskResult, error) {
	c.logger.Info("media stub: merge requested", "clip", clip, "audio", audio)
	id := uuid.NewString()
	return &TaskResult{TaskID: id, OutputURL: fmt.Sprintf("stub://clips/%s.mp4", id), DurationSeconds: mediaSeconds}, nil
}

func (c *StubClient) BurnSubtitle(ctx context.Context, clip, text string, mediaSeconds float64) (*TaskResult, error) {
	c.logger.Info("media stub: caption requested", "clip", clip, "chars", len(text))
	id := uuid.NewString()
	return &TaskResult{TaskID: id, OutputURL: fmt.Sprintf("stub://clips/%s.mp4", id), DurationSeconds: mediaSeconds}, nil
}

func (c *StubClient) ComposeTimeline(ctx context.Context, clips []string, mediaSeconds float64) (*ComposeResult, error) {
	c.logger.Info("media stub: concatenate requested", "clips", len(clips))
	id := uuid.NewString()
	return &ComposeResult{
		TaskID:     id,
		VideoURL:   fmt.Sprintf("stub://final/%s.mp4", id),
		PublicURL:  fmt.Sprintf("https://stub.local/final/%s.mp4", id),
		StorageURI: fmt.Sprintf("s3://stub-bucket/final/%s.mp4", id),
		LocalPath:  fmt.Sprintf("/tmp/final/%s.mp4", id),
		Metadata:   fmt.Sprintf(`{"clips":%d,"sources":"%s"}`, len(clips), strings.Join(clips, ",")),
	}, nil
}
