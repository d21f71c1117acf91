package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"igpost/internal/history"
	"igpost/internal/upload"
)

var flagDescription string

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <video-file>",
		Short: "Publish a video with a caption",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}

	cmd.Flags().StringVarP(&flagDescription, "description", "d", "", "caption/description for the video")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := authenticate(ctx, logger)
	if err != nil {
		return err
	}

	recorder, closeHistory := historyRecorder(logger)
	defer closeHistory()

	var opts []upload.Option
	if recorder != nil {
		opts = append(opts, upload.WithRecorder(recorder))
	}

	orch := upload.New(client, logger, opts...)

	result, err := orch.Publish(ctx, upload.Request{
		FilePath: args[0],
		Caption:  flagDescription,
	})
	if err != nil {
		return err
	}

	if result.URL != "" {
		fmt.Println(result.URL)
	} else {
		fmt.Println("Upload complete.")
	}

	return nil
}

// historyRecorder opens the publish ledger if one is configured. Ledger
// problems never block a publish — the recorder is simply omitted.
func historyRecorder(logger *slog.Logger) (upload.Recorder, func()) {
	noop := func() {}

	if resolvedCfg.HistoryDB == "" {
		return nil, noop
	}

	store, err := history.Open(resolvedCfg.HistoryDB, logger)
	if err != nil {
		logger.Warn("publish history unavailable",
			slog.String("path", resolvedCfg.HistoryDB),
			slog.String("error", err.Error()),
		)

		return nil, noop
	}

	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing history store", slog.String("error", err.Error()))
		}
	}
}
