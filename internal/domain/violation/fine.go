package violation

const (
	// MatchedSimilarity is the similarity at which a retrieved rule counts towards the fine.
	MatchedSimilarity = 0.75
	// FallbackFine is recommended when no matched rule carries a fine.
	FallbackFine int64 = 2000
)

func MatchedRules(matches []RuleMatch) []RuleMatch {
	matched := make([]RuleMatch, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= MatchedSimilarity {
			matched = append(matched, m)
		}
	}
	return matched
}

func SumFines(matches []RuleMatch) int64 {
	var total int64
	for _, m := range matches {
		total += m.FineAmount
	}
	return total
}

// ComputeFine sums the fines of matched rules, falling back to FallbackFine
// when that sum is zero.
func ComputeFine(matches []RuleMatch) int64 {
	total := SumFines(MatchedRules(matches))
	if total == 0 {
		return FallbackFine
	}
	return total
}
