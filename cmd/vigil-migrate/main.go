package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vigil-migrate",
	Short: "Apply and inspect Vigil's Postgres schema migrations",
}

func init() {
	rootCmd.PersistentFlags().String("dsn", os.Getenv("VIGIL_POSTGRES_DSN"), "Postgres DSN (defaults to $VIGIL_POSTGRES_DSN)")
	rootCmd.PersistentFlags().String("dir", "pkg/storage/migrations", "Migrations directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cobra.OnInitialize(func() {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(level)})
	})

	rootCmd.AddCommand(upCmd, downCmd, statusCmd, versionCmd)
}

func openDB(cmd *cobra.Command) (*sql.DB, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		return nil, fmt.Errorf("--dsn (or $VIGIL_POSTGRES_DSN) is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return db, nil
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		dir, _ := cmd.Flags().GetString("dir")
		if err := goose.Up(db, dir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		dir, _ := cmd.Flags().GetString("dir")
		if err := goose.Down(db, dir); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Println("one migration rolled back")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied/pending migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		dir, _ := cmd.Flags().GetString("dir")
		return goose.Status(db, dir)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		dir, _ := cmd.Flags().GetString("dir")
		return goose.Version(db, dir)
	},
}
