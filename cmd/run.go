package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/enrich"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/ranking"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run merge, enrich and rank in order",
	Long:  "Runs the daily pipeline: merge the input batch, enrich pending postings, then rank unranked postings. A failing stage stops the later ones.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		format, _ := cmd.Flags().GetString("format")
		skipMerge, _ := cmd.Flags().GetBool("skip-merge")
		opts, err := enrichOptions(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, "run")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		summaries, err := a.runAll(ctx, runAllOptions{
			Input:     input,
			Format:    format,
			SkipMerge: skipMerge,
			Enrich:    opts,
		})
		for _, s := range summaries {
			formatSummary(os.Stdout, s)
		}
		return err
	},
}

type runAllOptions struct {
	Input     string
	Format    string
	SkipMerge bool
	Enrich    enrich.RunOptions
}

// runAll executes the stages in order and returns the summary of each stage
// that ran.
func (a *app) runAll(ctx context.Context, opts runAllOptions) ([]*model.RunSummary, error) {
	var out []*model.RunSummary

	if !opts.SkipMerge {
		s, err := a.mergeSource(ctx, opts.Input, opts.Format, false)
		if s != nil {
			out = append(out, s)
		}
		if err != nil {
			return out, eris.Wrap(err, "run: merge")
		}
	}

	s, err := a.enrich(ctx, opts.Enrich)
	if s != nil {
		out = append(out, s)
	}
	if err != nil {
		return out, eris.Wrap(err, "run: enrich")
	}

	s, _, err = a.rank(ctx, ranking.RankOptions{OnlyUnranked: true})
	if s != nil {
		out = append(out, s)
	}
	if err != nil {
		return out, eris.Wrap(err, "run: rank")
	}

	zap.L().Info("pipeline run complete", zap.Int("stages", len(out)))
	return out, nil
}

func init() {
	runCmd.Flags().StringP("input", "i", "-", "batch file path, http(s) URL, or - for stdin")
	runCmd.Flags().String("format", "", "batch format: json or csv")
	runCmd.Flags().Bool("skip-merge", false, "skip the merge stage")
	addEnrichFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
