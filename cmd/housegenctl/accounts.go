package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"housegen/internal/auth"
)

func purgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions and single-use tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			svc := auth.NewService(auth.NewPostgresRepository(db), nil, opts.logger(), auth.ServiceConfig{})
			sessions, tokens, err := svc.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions and %d tokens\n", sessions, tokens)
			return nil
		},
	}
}

func setRoleCmd(opts *rootOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "set-role EMAIL",
		Short: "Change the role of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			svc := auth.NewService(auth.NewPostgresRepository(db), nil, opts.logger(), auth.ServiceConfig{})
			user, err := svc.SetRole(cmd.Context(), args[0], auth.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "role to assign (user or admin)")
	return cmd
}
