// Package cmd defines and implements the CLI commands for the enricher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/course-enricher/internal/batch"
	"github.com/JakeFAU/course-enricher/internal/config"
	"github.com/JakeFAU/course-enricher/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface the commands drive. Tests inject a fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	RunTrigger(ctx context.Context) error
	Scrape(
		ctx context.Context,
		ids []string,
		skipCompleted bool,
		persist bool,
		onProgress batch.ProgressFunc,
	) (string, []batch.Result, error)
	Import(ctx context.Context, r io.Reader) (server.ImportReport, error)
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Enriches study-program records from university web pages.",
		Long: `enricher keeps a catalog of university study programs up to date. It
finds each program's page, reads it and has a language model extract the
program facts, either in synchronous batches or whenever a record is marked
PENDING_SCRAPE.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application once the flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and ENRICHER_* env vars when empty)")

	cmd.AddCommand(
		newServeCmd(),
		newTriggerCmd(),
		newScrapeCmd(),
		newImportCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "enricher:", err)
		os.Exit(1)
	}
}
