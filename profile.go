package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the authenticated account's profile as JSON",
		RunE:  runProfile,
	}
}

func runProfile(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := authenticate(ctx, logger)
	if err != nil {
		return err
	}

	account, err := client.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(account); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
