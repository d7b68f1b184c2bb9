package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

func newSyncCmd(a *app) *cobra.Command {
	var dryRun bool
	var output string

	c := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass over all destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := ParseOutputFormat(output)
			if err != nil {
				return err
			}
			cfg, closer, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			defer closer.Close()

			rt := NewRuntime(cmd.Context(), cfg)
			defer rt.Close()

			if dryRun {
				plog.Notice("[DRY RUN] No changes will be made")
			}
			results, err := rt.Controller.RunSync(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if err := WriteResults(cmd.OutOrStdout(), results, format); err != nil {
				return fmt.Errorf("failed to write results: %w", err)
			}
			if n := results.Failed(); n > 0 {
				return fmt.Errorf("%d of %d destinations failed", n, len(results))
			}
			plog.Info(buildinfo.Name + " sync completed")
			return nil
		},
	}
	c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be done without making any changes.")
	c.Flags().StringVarP(&output, "output", "o", "table", "Report format: 'table', 'json' or 'yaml'.")
	return c
}
