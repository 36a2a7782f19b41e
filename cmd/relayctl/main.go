// Command relayctl runs maintenance tasks against the competition database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/binarybattles/coderelay/internal/database"
)

var globalFlags = struct {
	dbPath string
	debug  bool
}{}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if globalFlags.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openDB(ctx context.Context) (*sql.DB, error) {
	db, err := database.Open(ctx, globalFlags.dbPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	return db, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Maintenance commands for the code relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.dbPath, "db", envOr("DB_PATH", "data/coderelay.db"), "path to the sqlite database")
	root.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(migrateCommand())
	root.AddCommand(hashPasswordCommand())
	root.AddCommand(addAdminCommand())
	root.AddCommand(addTeamCommand())
	root.AddCommand(checkProblemsCommand())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
