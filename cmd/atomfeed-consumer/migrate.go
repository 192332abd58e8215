package main

import (
	"github.com/spf13/cobra"
)

type migrateResult struct {
	Driver  string `json:"driver" yaml:"driver"`
	Applied bool   `json:"applied" yaml:"applied"`
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the marker and failed-event tables",
		Long:  "Creates the tables for the configured driver. Existing tables are left untouched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg.DB, logger)
			if err != nil {
				return commandError("open storage", err)
			}
			defer b.close()

			if err := b.migrate(ctx); err != nil {
				return err
			}
			logger.Info("atomfeed schema migrated", "driver", cfg.DB.Driver)

			if root.Format == formatText {
				return nil
			}

			return root.formatter(cmd).write(migrateResult{Driver: cfg.DB.Driver, Applied: true})
		},
	}
}
