// Command housegenctl runs operator tasks against the housegen database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"housegen/internal/config"
	"housegen/internal/platform/database"
	"housegen/internal/platform/logging"
)

type rootOptions struct {
	databaseURL string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "housegenctl",
		Short:         "Operator tasks for the housegen auth database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		migrateCmd(opts),
		purgeCmd(opts),
		setRoleCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) logger() *slog.Logger {
	return logging.New(o.logLevel, "development")
}

func (o *rootOptions) open(ctx context.Context) (*sqlx.DB, error) {
	if o.databaseURL == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}
	return database.NewPostgres(ctx, o.databaseURL)
}
