package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axobase001/axobase/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(cmd.Context(), dbConfigFromViper())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}
