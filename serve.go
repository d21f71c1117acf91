package main

import (
	"context"

	"github.com/spf13/cobra"

	"igpost/internal/api"
)

var flagListenAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (upload, profile, health)",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&flagListenAddr, "listen", "", "listen address (default from config)")

	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(context.Background(), logger)

	authenticator := func(ctx context.Context) (api.Client, error) {
		return authenticate(ctx, logger)
	}

	var opts []api.Option

	recorder, closeHistory := historyRecorder(logger)
	defer closeHistory()

	if recorder != nil {
		opts = append(opts, api.WithRecorder(recorder))
	}

	server := api.NewServer(authenticator, logger, opts...)

	addr := resolvedCfg.ListenAddr
	if flagListenAddr != "" {
		addr = flagListenAddr
	}

	statusf("Serving on %s\n", addr)

	return server.Run(ctx, addr)
}
