// Package upload resolves the input of a publish operation (a local file
// path or an uploaded byte stream), invokes the platform's publish
// capability, and builds the canonical post URL. Byte streams are
// materialized to a temporary file whose removal is guaranteed on every
// exit path.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/text/unicode/norm"

	"igpost/internal/insta"
)

// PostURLFormat is the public URL for a published post with a known code.
const PostURLFormat = "https://www.instagram.com/p/%s/"

// tempPattern gives byte-stream temp files a video suffix so the platform
// binding and any inspection tooling recognize the media type.
const tempPattern = "igpost-*.mp4"

// Input validation errors. CLI and API layers map these to usage errors.
var (
	ErrAmbiguousSource = errors.New("upload: both a file path and a byte stream were provided")
	ErrMissingSource   = errors.New("upload: no video source provided")
	ErrSourceNotFound  = errors.New("upload: video file not found")
	ErrMissingCaption  = errors.New("upload: a caption is required")
)

// Publisher is the platform capability the orchestrator drives.
// *insta.Client satisfies it; tests use a fake.
type Publisher interface {
	PublishVideo(ctx context.Context, path, caption string) (*insta.Media, error)
}

// Recorder receives a record of each successful publish. The history store
// satisfies it.
type Recorder interface {
	Record(ctx context.Context, code, url, caption, source string) error
}

// Request describes one publish operation. Exactly one of FilePath and
// Stream must be set.
type Request struct {
	FilePath string
	Stream   io.Reader
	Caption  string
}

// Result is the outcome of a successful publish. URL is empty when the
// platform accepted the media without returning an addressable code —
// that is still success.
type Result struct {
	URL  string
	Code string
}

// Orchestrator validates input, publishes, and optionally records history.
type Orchestrator struct {
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a publish history recorder. Recording failures are
// logged, never surfaced — history is bookkeeping, not part of the publish.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// New creates an Orchestrator around an authenticated publisher.
func New(publisher Publisher, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{publisher: publisher, logger: logger}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ResolveInput validates the request's source and returns the concrete
// file path to publish plus a cleanup function. The cleanup function is
// never nil and must be called (deferred) regardless of publish outcome;
// for a caller-supplied path it is a no-op, for a byte stream it removes
// the temporary file.
func ResolveInput(req Request, logger *slog.Logger) (string, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	noop := func() {}

	switch {
	case req.FilePath != "" && req.Stream != nil:
		return "", noop, ErrAmbiguousSource
	case req.FilePath == "" && req.Stream == nil:
		return "", noop, ErrMissingSource
	}

	if req.FilePath != "" {
		info, err := os.Stat(req.FilePath)
		if err != nil {
			return "", noop, fmt.Errorf("%w: %s", ErrSourceNotFound, req.FilePath)
		}

		if info.IsDir() {
			return "", noop, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, req.FilePath)
		}

		return req.FilePath, noop, nil
	}

	tmp, err := os.CreateTemp("", tempPattern)
	if err != nil {
		return "", noop, fmt.Errorf("upload: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	cleanup := func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove temp video",
				slog.String("path", tmpPath),
				slog.String("error", rmErr.Error()),
			)
		}
	}

	if _, err := io.Copy(tmp, req.Stream); err != nil {
		tmp.Close()
		cleanup()

		return "", noop, fmt.Errorf("upload: writing temp video: %w", err)
	}

	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("upload: closing temp video: %w", err)
	}

	logger.Debug("materialized byte stream", slog.String("path", tmpPath))

	return tmpPath, cleanup, nil
}

// Publish resolves the request, publishes the video, and returns the
// canonical result. The temporary file for a byte-stream source is removed
// before Publish returns, whether the platform call succeeds or fails.
func (o *Orchestrator) Publish(ctx context.Context, req Request) (*Result, error) {
	if req.Caption == "" {
		return nil, ErrMissingCaption
	}

	path, cleanup, err := ResolveInput(req, o.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// The platform compares captions byte-wise when deduplicating; NFC
	// keeps visually identical captions identical on the wire.
	caption := norm.NFC.String(req.Caption)

	o.logger.Info("publishing video",
		slog.String("path", path),
		slog.Int("caption_len", len(caption)),
	)

	media, err := o.publisher.PublishVideo(ctx, path, caption)
	if err != nil {
		return nil, fmt.Errorf("upload: publishing video: %w", err)
	}

	result := &Result{Code: media.Code}
	if media.Code != "" {
		result.URL = fmt.Sprintf(PostURLFormat, media.Code)
		o.logger.Info("publish succeeded", slog.String("url", result.URL))
	} else {
		o.logger.Info("publish completed without media code")
	}

	o.record(ctx, result, caption, req.FilePath)

	return result, nil
}

// record writes the publish to the history ledger, if one is attached.
func (o *Orchestrator) record(ctx context.Context, res *Result, caption, source string) {
	if o.recorder == nil {
		return
	}

	if source == "" {
		source = "stream"
	}

	if err := o.recorder.Record(ctx, res.Code, res.URL, caption, source); err != nil {
		o.logger.Warn("failed to record publish history",
			slog.String("error", err.Error()),
		)
	}
}
