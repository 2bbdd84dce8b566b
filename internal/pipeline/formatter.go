package pipeline

import (
	"thirdeye-service/internal/domain/violation"
)

const (
	ResultComplete   = "complete"
	ResultIncomplete = "incomplete"
)

const (
	msgAnalysisFailed = "Failed to analyze image"
	msgOutsideRegion  = "Violation outside supported region"
	msgNoVehicle      = "No vehicle detected"
	msgNoViolation    = "No violation detected"
	msgNoPlate        = "No license plate detected"
)

// Format builds the client facing result from whatever the run produced. It
// never fails, whatever subset of the state is populated.
func Format(st *RunState) *violation.FormattedResult {
	res := &violation.FormattedResult{
		Status:          ResultComplete,
		Violation:       violation.FormattedViolation{Title: "Unknown", Types: []string{}},
		Validation:      violation.Validation{Messages: []string{}},
		ApplicableRules: []violation.RuleMatch{},
	}

	a := st.Assessment
	if st.Failure != nil || a == nil {
		res.Status = ResultIncomplete
		res.Validation.Messages = append(res.Validation.Messages, msgAnalysisFailed)
		return res
	}
	if st.Skip {
		res.Status = ResultIncomplete
	}

	if a.Title != "" {
		res.Violation.Title = a.Title
	}
	res.Violation.Description = a.Description
	res.Violation.Types = a.Labels()
	res.Violation.Confidence = a.Confidence
	res.Violation.VehicleNumber = a.VehicleNumber

	if !a.RegionMatch {
		res.Validation.Messages = append(res.Validation.Messages, msgOutsideRegion)
	}
	if !a.VehiclePresent {
		res.Validation.Messages = append(res.Validation.Messages, msgNoVehicle)
	}
	if !a.ViolationPresent {
		res.Validation.Messages = append(res.Validation.Messages, msgNoViolation)
	}
	if !a.PlatePresent {
		res.Validation.Messages = append(res.Validation.Messages, msgNoPlate)
	}
	res.Validation.IsValid = a.Valid() && a.Confidence > violation.EscalationThreshold

	res.ApplicableRules = append(res.ApplicableRules, st.Matches...)
	if st.Persisted != nil {
		res.ReportID = st.Persisted.RecordID
		res.RecommendedFine = st.Persisted.RecommendedFine
	}
	return res
}
