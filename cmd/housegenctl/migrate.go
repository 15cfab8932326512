package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"housegen/internal/platform/migrate"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				return migrate.Apply(cmd.Context(), db, opts.logger())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				return migrate.Down(cmd.Context(), db, opts.logger())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				if err := migrate.Status(cmd.Context(), db, opts.logger()); err != nil {
					return err
				}
				version, err := migrate.Version(cmd.Context(), db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
				return nil
			},
		},
	)
	return cmd
}
