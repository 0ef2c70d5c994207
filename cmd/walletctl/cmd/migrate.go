package cmd

import (
	"fmt"

	"lv-walletledger/internal/config"
	"lv-walletledger/internal/store/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the postgres store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Store.Driver != config.DriverPostgres {
				fmt.Fprintf(out, "store driver %s has no schema to migrate\n", cfg.Store.Driver)
				return nil
			}
			pool, err := postgres.NewPool(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			applied, err := postgres.Migrate(cmd.Context(), pool)
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
			}
			return nil
		},
	}
}
