package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/herald/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = b.Close() }()

		if err := b.migrate(ctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
		return nil
	},
}
