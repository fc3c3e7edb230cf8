package main

import (
	"github.com/spf13/cobra"

	"gatehouse/cmd/internal/app"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations for the configured PostgreSQL or SQLite database.`,
		RunE:  runMigrate,
	}
	cmd.Flags().String("database-url", "", "postgres://... or sqlite:<path>")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := app.Migrate(commandContext(cmd), cfg, log); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
