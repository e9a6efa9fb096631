package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-crm/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	_, db, _, err := openDB()
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
	return nil
}
