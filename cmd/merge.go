package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a batch of raw postings into the store",
	Long:  "Reads a JSON array or CSV batch from a file, URL or stdin, resolves each posting's identity and upserts it. Invalid records are rejected individually.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		format, _ := cmd.Flags().GetString("format")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(ctx, cfg, "merge")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		summary, err := a.mergeSource(ctx, input, format, dryRun)
		if summary != nil {
			if asJSON {
				_ = writeJSON(os.Stdout, summary)
			} else {
				formatSummary(os.Stdout, summary)
			}
		}
		return err
	},
}

func init() {
	mergeCmd.Flags().StringP("input", "i", "-", "batch file path, http(s) URL, or - for stdin")
	mergeCmd.Flags().String("format", "", "batch format: json or csv (default from config or file extension)")
	mergeCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	mergeCmd.Flags().Bool("json", false, "print the run summary as JSON")
	rootCmd.AddCommand(mergeCmd)
}
