package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/seed"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type RuleStore interface {
	UpsertRule(ctx context.Context, rule violation.RuleMatch, embedding []float32) error
}

type RuleSeeder struct {
	embedder Embedder
	store    RuleStore
	log      zerolog.Logger
}

func NewRuleSeeder(embedder Embedder, store RuleStore, log zerolog.Logger) *RuleSeeder {
	return &RuleSeeder{
		embedder: embedder,
		store:    store,
		log:      log.With().Str("component", "rule_seeder").Logger(),
	}
}

// Seed embeds and upserts every rule, stopping at the first failure. It
// returns the number of rules written.
func (s *RuleSeeder) Seed(ctx context.Context, rules []seed.Rule) (int, error) {
	if len(rules) == 0 {
		return 0, fmt.Errorf("%w: no rules to seed", ErrInvalidInput)
	}
	for i, rule := range rules {
		vector, err := s.embedder.Embed(ctx, rule.EmbeddingText())
		if err != nil {
			return i, fmt.Errorf("embed rule %s: %w", rule.RuleID, err)
		}
		if err := s.store.UpsertRule(ctx, rule.Match(), vector); err != nil {
			return i, err
		}
		s.log.Info().
			Str("rule_id", rule.RuleID).
			Int64("fine_amount", rule.FineAmount).
			Int("dimensions", len(vector)).
			Msg("rule seeded")
	}
	return len(rules), nil
}
