package violation

import "fmt"

const (
	// EscalationThreshold is the confidence below which a record needs manual review.
	EscalationThreshold = 0.7
	highSeverityAbove   = 0.8

	EscalationLevel    = 1
	EscalationPriority = "high"
)

func ShouldEscalate(confidence float64) bool {
	return confidence < EscalationThreshold
}

func SeverityFor(confidence float64) Severity {
	if confidence > highSeverityAbove {
		return SeverityHigh
	}
	return SeverityMedium
}

func StatusFor(confidence float64) Status {
	if ShouldEscalate(confidence) {
		return StatusEscalated
	}
	return StatusPendingReview
}

func EscalationReason(confidence float64) string {
	return fmt.Sprintf("Low confidence AI assessment (%.1f%%). Flagged for admin review.", confidence*100)
}
