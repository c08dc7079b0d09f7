package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/jobs-etl/internal/ranking"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Score postings against the preference profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		top, _ := cmd.Flags().GetInt("top")
		if path, _ := cmd.Flags().GetString("profile"); path != "" {
			cfg.Ranking.Path = path
		}

		a, err := newApp(ctx, cfg, "rank")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		summary, ranked, err := a.rank(ctx, ranking.RankOptions{
			Limit:        limit,
			OnlyUnranked: !all,
			DryRun:       dryRun,
		})
		if summary != nil {
			formatSummary(os.Stdout, summary)
		}
		if err != nil {
			return err
		}
		if top > 0 {
			formatTop(os.Stdout, ranking.Top(ranked, top))
		}
		return nil
	},
}

func init() {
	rankCmd.Flags().Bool("all", false, "re-rank every posting, not only those unranked under the current profile")
	rankCmd.Flags().Int("limit", 0, "max postings to rank (0 = no limit)")
	rankCmd.Flags().Bool("dry-run", false, "score without saving")
	rankCmd.Flags().Int("top", 10, "print the N highest scores")
	rankCmd.Flags().String("profile", "", "ranking profile YAML (default from config)")
	rootCmd.AddCommand(rankCmd)
}
