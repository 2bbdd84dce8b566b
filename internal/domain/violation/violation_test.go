package violation

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Type{
		"speeding":                      TypeSpeeding,
		"  Red Light , speeding":        TypeRedLight,
		"not_wearing_helmet":            TypeHelmetViolation,
		"Not Wearing Seatbelt":          TypeSeatbeltViolation,
		"phone_usage,rash_driving":      TypePhoneUsage,
		"NO_LICENSE_PLATE":              TypeNoLicensePlate,
		"":                              TypeOther,
		"jaywalking":                    TypeOther,
		",speeding":                     TypeOther,
		"wrong parking, illegal things": TypeWrongParking,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%q", raw)
	}
}

func TestNormalize_AlwaysCanonical(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Normalize returns a canonical member", prop.ForAll(
		func(raw string) bool {
			return Normalize(raw).Valid()
		},
		gen.AnyString(),
	))

	properties.Property("unrecognized labels fall back to other", prop.ForAll(
		func(raw string) bool {
			return Normalize("zz"+raw) == TypeOther
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestShouldEscalate_MatchesThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("ShouldEscalate(c) == c < 0.7", prop.ForAll(
		func(c float64) bool {
			return ShouldEscalate(c) == (c < 0.7)
		},
		gen.Float64Range(0, 1),
	))

	properties.Property("status follows escalation", prop.ForAll(
		func(c float64) bool {
			if ShouldEscalate(c) {
				return StatusFor(c) == StatusEscalated
			}
			return StatusFor(c) == StatusPendingReview
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityFor(0.81))
	assert.Equal(t, SeverityMedium, SeverityFor(0.8))
	assert.Equal(t, SeverityMedium, SeverityFor(0.1))
	assert.False(t, ShouldEscalate(0.7))
	assert.True(t, ShouldEscalate(0.6999))
}

func TestEscalationReason(t *testing.T) {
	reason := EscalationReason(0.65)
	assert.True(t, strings.Contains(reason, "65.0%"), reason)
}

func genRuleMatch() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64Range(1, 10_000),
		gen.Float64Range(0, 1),
	).Map(func(values []interface{}) RuleMatch {
		return RuleMatch{
			RuleID:     "rule",
			FineAmount: values[0].(int64),
			Similarity: values[1].(float64),
		}
	})
}

func TestComputeFine_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("fallback iff nothing is matched, exact sum otherwise", prop.ForAll(
		func(matches []RuleMatch) bool {
			var want int64
			anyMatched := false
			for _, m := range matches {
				if m.Similarity >= 0.75 {
					anyMatched = true
					want += m.FineAmount
				}
			}
			got := ComputeFine(matches)
			if !anyMatched {
				return got == FallbackFine
			}
			return got == want
		},
		gen.SliceOf(genRuleMatch()),
	))

	properties.Property("ComputeFine is idempotent", prop.ForAll(
		func(matches []RuleMatch) bool {
			return ComputeFine(matches) == ComputeFine(matches)
		},
		gen.SliceOf(genRuleMatch()),
	))

	properties.TestingRun(t)
}

func TestComputeFine_Scenarios(t *testing.T) {
	matches := []RuleMatch{
		{RuleID: "mva-section-5", FineAmount: 1000, Similarity: 0.8},
		{RuleID: "mva-section-3", FineAmount: 500, Similarity: 0.4},
	}
	assert.Equal(t, int64(1000), ComputeFine(matches))
	assert.Equal(t, FallbackFine, ComputeFine(nil))
	assert.Equal(t, FallbackFine, ComputeFine([]RuleMatch{{FineAmount: 0, Similarity: 0.9}}))
	assert.Equal(t, int64(1500), ComputeFine([]RuleMatch{
		{FineAmount: 1000, Similarity: 0.75},
		{FineAmount: 500, Similarity: 0.99},
	}))
}

func TestAssessmentLabels(t *testing.T) {
	a := &Assessment{ViolationTypes: "speeding, red_light ,,"}
	assert.Equal(t, []string{"speeding", "red_light"}, a.Labels())

	var nilAssessment *Assessment
	assert.Empty(t, nilAssessment.Labels())
	assert.False(t, nilAssessment.Valid())
}
