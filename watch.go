package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"igpost/internal/upload"
	"igpost/internal/watch"
)

var (
	flagWatchDir    string
	flagWatchSettle time.Duration
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory and publish new videos",
		Long: `Watch a directory for new .mp4 files and publish each one once it has
settled. The file name stem becomes the caption; published files are
moved into a posted/ subdirectory.`,
		RunE: runWatch,
	}

	cmd.Flags().StringVar(&flagWatchDir, "dir", "", "drop directory to watch (default from config)")
	cmd.Flags().DurationVar(&flagWatchSettle, "settle", watch.DefaultSettle, "quiet period before a dropped file is published")

	return cmd
}

func runWatch(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	dir := flagWatchDir
	if dir == "" {
		dir = resolvedCfg.WatchDir
	}

	if dir == "" {
		return fmt.Errorf("no watch directory configured (use --dir or set watch_dir)")
	}

	recorder, closeHistory := historyRecorder(logger)
	defer closeHistory()

	publish := func(ctx context.Context, path, caption string) error {
		client, err := authenticate(ctx, logger)
		if err != nil {
			return err
		}

		var opts []upload.Option
		if recorder != nil {
			opts = append(opts, upload.WithRecorder(recorder))
		}

		result, err := upload.New(client, logger, opts...).Publish(ctx, upload.Request{
			FilePath: path,
			Caption:  caption,
		})
		if err != nil {
			return err
		}

		if result.URL != "" {
			statusf("Published %s\n", result.URL)
		}

		return nil
	}

	ctx := shutdownContext(context.Background(), logger)

	statusf("Watching %s\n", dir)

	return watch.New(dir, publish, flagWatchSettle, logger).Run(ctx)
}
