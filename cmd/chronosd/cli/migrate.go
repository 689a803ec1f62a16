package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akshat111/CHRONOS/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the CHRONOS schema",
	Long: `Connect to PostgreSQL and apply the chronos_jobs/chronos_execution_logs/
chronos_counters schema. Idempotent — safe to run against a database the
schema already exists in.

Reads the DSN from --postgres-dsn, POSTGRES_DSN, or config file.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN (overrides config/env)")
	bindFlag("postgres_dsn", migrateCmd.Flags(), "postgres-dsn")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := viper.GetString("postgres_dsn")
	// serve binds the same viper key to its own flag, and viper keeps only
	// the last binding, so this command's flag is read directly.
	if cmd.Flags().Changed("postgres-dsn") {
		dsn, _ = cmd.Flags().GetString("postgres-dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if _, err := store.NewPostgres(ctx, pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	fmt.Println("schema applied")
	return nil
}
