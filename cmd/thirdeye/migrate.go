package main

import (
	"github.com/spf13/cobra"

	"thirdeye-service/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.DB.AutoMigrate = false

		gdb, err := db.Connect(cfg.DB, log)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		if err := db.Migrate(gdb.WithContext(cmd.Context())); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
