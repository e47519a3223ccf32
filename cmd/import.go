package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newImportCmd creates the 'import' subcommand.
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Imports a JSON array of records keyed by Smart ID",
		Long: `Reads a JSON array of study-program rows, assigns each a Smart ID of the
form LOC-L-SS-index, keeps any prior id as originalId and upserts the rows.
Smart IDs that collide are reported; colliding rows merge.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			report, err := appInstance.Import(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d rows\n", report.Imported)
			for _, c := range report.Collisions {
				fmt.Fprintf(out, "warning: smart id %s assigned to %d rows\n", c.ID, c.Count)
			}
			return nil
		},
	}
}
