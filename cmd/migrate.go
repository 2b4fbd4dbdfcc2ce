package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store and analytics schemas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))

		// Postgres analytics migrates while it is being built.
		if _, err := initAnalytics(ctx, st); err != nil {
			return err
		}
		zap.L().Info("analytics ready", zap.String("sink", cfg.Analytics.Sink))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
