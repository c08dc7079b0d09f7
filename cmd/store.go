package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the posting store",
}

var storeMigrateCmd = &cobra.Command{
	Use:     "migrate",
	Aliases: []string{"init"},
	Short:   "Create or update the store schema and check upsert atomicity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, "store")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.store.VerifyAtomicUpsert(ctx); err != nil {
			return eris.Wrap(err, "store migrate")
		}
		n, err := a.store.CountPostings(ctx)
		if err != nil {
			return eris.Wrap(err, "store migrate")
		}
		zap.L().Info("store ready",
			zap.String("driver", cfg.Store.Driver),
			zap.Int("postings", n),
		)
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeMigrateCmd)
	rootCmd.AddCommand(storeCmd)
}
