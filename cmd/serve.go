package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, the trigger path and the reaper",
		Long: `Starts the HTTP API. When trigger.enabled is set, the same process also
enriches records whose status changes to PENDING_SCRAPE and reaps records
stuck in SCRAPING. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Runs only the trigger dispatcher and the reaper",
		Long: `Consumes record change events from the configured source (the record
store's change stream or a Pub/Sub subscription) and enriches every record
that enters PENDING_SCRAPE, without serving HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.RunTrigger(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("trigger: %w", err)
			}
			return nil
		},
	}
}
