package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/jobs-etl/internal/enrich"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich pending postings with seniority, skills and company data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := enrichOptions(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(ctx, cfg, "enrich")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		summary, err := a.enrich(ctx, opts)
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

// enrichOptions reads the pass selection flags. With no pass flag set every
// pass runs.
func enrichOptions(cmd *cobra.Command) (enrich.RunOptions, error) {
	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	retax, _ := cmd.Flags().GetBool("retaxonomize")
	seniority, _ := cmd.Flags().GetBool("seniority")
	skills, _ := cmd.Flags().GetBool("skills")
	companies, _ := cmd.Flags().GetBool("companies")

	if !seniority && !skills && !companies {
		seniority, skills, companies = true, true, true
	}
	return enrich.RunOptions{
		Limit:        limit,
		Seniority:    seniority,
		Skills:       skills,
		Companies:    companies,
		DryRun:       dryRun,
		Retaxonomize: retax,
	}, nil
}

func addEnrichFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 0, "max items per pass (default from config)")
	cmd.Flags().Bool("retaxonomize", false, "reset resolved seniority so every posting is re-resolved")
	cmd.Flags().Bool("seniority", false, "run the seniority pass")
	cmd.Flags().Bool("skills", false, "run the skills pass")
	cmd.Flags().Bool("companies", false, "run the company pass")
}

func init() {
	addEnrichFlags(enrichCmd)
	enrichCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	enrichCmd.Flags().Bool("json", false, "print the run summary as JSON")
	rootCmd.AddCommand(enrichCmd)
}
