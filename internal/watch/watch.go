// Package watch publishes videos dropped into a directory. Each new .mp4
// file is given a settle period (so half-written files are not uploaded),
// then published with its file name stem as the caption and moved into a
// posted/ subdirectory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must be quiet before it is published.
const DefaultSettle = 2 * time.Second

// postedDirName is where successfully published files are moved.
const postedDirName = "posted"

// videoExt is the only media type the watcher picks up.
const videoExt = ".mp4"

// PublishFunc publishes one video file with a caption.
type PublishFunc func(ctx context.Context, path, caption string) error

// Watcher watches a drop directory and publishes settled video files.
type Watcher struct {
	dir     string
	publish PublishFunc
	settle  time.Duration
	logger  *slog.Logger

	// pending maps absolute paths to the time of their last write event.
	pending map[string]time.Time
}

// New creates a Watcher for dir. settle <= 0 selects DefaultSettle.
func New(dir string, publish PublishFunc, settle time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Watcher{
		dir:     dir,
		publish: publish,
		settle:  settle,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// Run watches until ctx is canceled. Files already in the directory at
// start are picked up too, so a crash between drop and publish is not a
// lost post.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(filepath.Join(w.dir, postedDirName), 0o755); err != nil {
		return fmt.Errorf("watch: creating posted directory: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching drop directory",
		slog.String("dir", w.dir),
		slog.Duration("settle", w.settle),
	)

	if err := w.scanExisting(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			w.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.publishSettled(ctx)
		}
	}
}

// scanExisting queues files that were already present at startup.
func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("watch: reading %s: %w", w.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isVideo(entry.Name()) {
			continue
		}

		path := filepath.Join(w.dir, entry.Name())
		w.pending[path] = time.Now()

		w.logger.Debug("queued existing file", slog.String("path", path))
	}

	return nil
}

// handleEvent queues create/write events for video files. Chmod-only
// events carry no content change and are ignored.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		delete(w.pending, event.Name)
		return
	}

	if !isVideo(event.Name) {
		return
	}

	w.pending[event.Name] = time.Now()

	w.logger.Debug("file event",
		slog.String("path", event.Name),
		slog.String("op", event.Op.String()),
	)
}

// publishSettled publishes every pending file whose last write is older
// than the settle period, then moves it to posted/. A failed publish is
// dropped from the queue; the next write event re-queues it.
func (w *Watcher) publishSettled(ctx context.Context) {
	cutoff := time.Now().Add(-w.settle)

	for path, last := range w.pending {
		if last.After(cutoff) {
			continue
		}

		delete(w.pending, path)

		caption := captionFor(path)

		w.logger.Info("publishing dropped file",
			slog.String("path", path),
			slog.String("caption", caption),
		)

		if err := w.publish(ctx, path, caption); err != nil {
			w.logger.Warn("publish failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			continue
		}

		dest := filepath.Join(w.dir, postedDirName, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("could not move published file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func isVideo(name string) bool {
	return strings.EqualFold(filepath.Ext(name), videoExt)
}

// captionFor derives the caption from the file name stem, with
// underscores opened up into spaces.
func captionFor(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, "_", " ")
}
