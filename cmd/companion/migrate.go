package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			st, err := openStorage(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema migrated", zap.String("driver", cfg.Database.Driver))
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
