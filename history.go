package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"igpost/internal/history"
)

var flagHistoryLimit int

const captionDisplayWidth = 40

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently published posts",
		RunE:  runHistory,
	}

	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum number of posts to list")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	store, err := history.Open(resolvedCfg.HistoryDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	posts, err := store.List(ctx, flagHistoryLimit)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(posts)
	}

	if len(posts) == 0 {
		statusf("No posts recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, []string{
			formatTime(p.PostedAt),
			p.Code,
			truncate(p.Caption, captionDisplayWidth),
			p.URL,
		})
	}

	printTable(os.Stdout, []string{"POSTED", "CODE", "CAPTION", "URL"}, rows)

	return nil
}
