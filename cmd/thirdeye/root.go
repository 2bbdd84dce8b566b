package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"thirdeye-service/internal/config"
	"thirdeye-service/internal/logger"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "thirdeye",
	Short:         "Traffic violation analysis service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("thirdeye version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log), nil
}
