package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/database"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, sync, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer sync()

		db, err := database.Open(cmd.Context(), cfg.Database(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		migration := cfg.Migration()
		migration.Down = migrateDown
		return database.NewMigrationService(logger, migration).Migrate(db)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll every migration back")
}
