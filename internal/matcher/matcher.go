package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
)

const (
	// MinSimilarity is the retrieval floor; only strictly greater scores are kept.
	MinSimilarity = 0.3
	// MaxMatches caps the ranked result.
	MaxMatches = 5
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type RuleSearcher interface {
	SearchRules(ctx context.Context, vector []float32, minScore float64, limit int) ([]violation.RuleMatch, error)
}

type Matcher struct {
	embedder Embedder
	searcher RuleSearcher
	log      zerolog.Logger
}

func New(embedder Embedder, searcher RuleSearcher, log zerolog.Logger) *Matcher {
	return &Matcher{
		embedder: embedder,
		searcher: searcher,
		log:      log.With().Str("component", "rule_matcher").Logger(),
	}
}

// QueryText builds the text embedded for rule retrieval.
func QueryText(a *violation.Assessment) string {
	if a == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%s %s %s", a.Title, a.Description, a.ViolationTypes)))
}

// Match returns at most MaxMatches rules scoring above MinSimilarity, most
// similar first. Errors from the embedder or the searcher are returned as is.
func (m *Matcher) Match(ctx context.Context, text string) ([]violation.RuleMatch, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("match rules: empty violation text")
	}

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed violation text: %w", err)
	}

	candidates, err := m.searcher.SearchRules(ctx, vector, MinSimilarity, MaxMatches)
	if err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}

	matches := make([]violation.RuleMatch, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity > MinSimilarity {
			matches = append(matches, c)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}

	m.log.Debug().
		Int("candidates", len(candidates)).
		Int("matches", len(matches)).
		Msg("rules matched")

	return matches, nil
}
