package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/class-scheduler/internal/config"
	"github.com/example/class-scheduler/internal/db"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if dryRun {
				pending, err := migrate.Pending(ctx, d)
				if err != nil {
					return err
				}
				for _, p := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			}
			return migrate.Up(ctx, d, log)
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return c
}
