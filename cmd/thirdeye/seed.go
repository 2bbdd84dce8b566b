package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"thirdeye-service/internal/db"
	"thirdeye-service/internal/gemini"
	"thirdeye-service/internal/repository"
	"thirdeye-service/internal/seed"
	"thirdeye-service/internal/service"
)

var (
	rulesFile  string
	seedDryRun bool
)

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Embed the rule corpus and load it into the vector index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rules, err := loadRules()
		if err != nil {
			return err
		}
		if seedDryRun {
			for _, r := range rules {
				cmd.Printf("%s\t%s\t%d\t%s\n", r.RuleID, r.Category, r.FineAmount, r.Title)
			}
			return nil
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		gdb, err := db.Connect(cfg.DB, log)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		client, err := gemini.NewClient(cmd.Context(), cfg.Gemini)
		if err != nil {
			return err
		}
		embedder := gemini.NewEmbeddingClient(client, cfg.Gemini.EmbeddingModel)
		seeder := service.NewRuleSeeder(embedder, repository.NewRuleRepository(gdb), log)

		n, err := seeder.Seed(cmd.Context(), rules)
		if err != nil {
			return fmt.Errorf("seeded %d of %d rules: %w", n, len(rules), err)
		}
		cmd.Printf("seeded %d rules\n", n)
		return nil
	},
}

func init() {
	seedRulesCmd.Flags().StringVar(&rulesFile, "file", "", "YAML rule corpus (default: built-in Motor Vehicle Act rules)")
	seedRulesCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "list the rules without writing them")
	rootCmd.AddCommand(seedRulesCmd)
}

func loadRules() ([]seed.Rule, error) {
	if rulesFile != "" {
		return seed.LoadFile(rulesFile)
	}
	return seed.Default()
}
