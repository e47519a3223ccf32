package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

type scrapeOptions struct {
	ids           []string
	skipCompleted bool
	persist       bool
}

// newScrapeCmd creates the 'scrape' subcommand, which runs one synchronous
// batch over stored records and prints the results as JSON.
func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Enriches stored records in one synchronous batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			progressOut := cmd.ErrOrStderr()
			runID, results, err := appInstance.Scrape(cmd.Context(), opts.ids, opts.skipCompleted, opts.persist,
				func(processed, total int, current *catalog.Record) {
					if current == nil {
						fmt.Fprintf(progressOut, "[%d/%d] done\n", processed, total)
						return
					}
					fmt.Fprintf(progressOut, "[%d/%d] %s\n", processed, total, current.ID())
				})
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}

			failed := 0
			for _, res := range results {
				if !res.OK() {
					failed++
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"run_id": runID, "results": results}); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			fmt.Fprintf(progressOut, "run %s: %d enriched, %d failed\n", runID, len(results)-failed, failed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&opts.ids, "ids", nil, "record ids to enrich (default: every record)")
	cmd.Flags().BoolVar(&opts.skipCompleted, "skip-completed", false, "skip records whose status is COMPLETED")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "write the merged results back to the record store")
	return cmd
}
