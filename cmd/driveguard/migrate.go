package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"driveguard/internal/config"
	"driveguard/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			switch cfg.Storage.Driver {
			case config.StoragePostgres, config.StorageSQLite:
			default:
				return fmt.Errorf("storage driver %q has no migrations; use postgres or sqlite", cfg.Storage.Driver)
			}
			s, err := store.OpenSQL(cmd.Context(), cfg.Storage.Driver, cfg.Storage.DSN, ctx.log())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			applied, err := s.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "Schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied %s\n", v)
			}
			return nil
		},
	}
}
