package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent run summaries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		op, _ := cmd.Flags().GetString("operation")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(ctx, cfg, "store")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		runs, err := a.store.ListRuns(ctx, store.RunFilter{
			Operation: model.Operation(op),
			Status:    model.RunStatus(status),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if asJSON {
			return writeJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("operation", "", "filter by operation (merge, enrich, rank)")
	runsCmd.Flags().String("status", "", "filter by status (running, complete, failed)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}
