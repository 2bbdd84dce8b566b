package pipeline

import (
	"fmt"

	"thirdeye-service/internal/domain/violation"
)

type Stage string

const (
	StageAnalyze     Stage = "analyze"
	StageValidate    Stage = "validate"
	StageMatchRules  Stage = "match_rules"
	StageWriteRecord Stage = "write_record"
	StageFormat      Stage = "format"
	StageEnd         Stage = "end"
)

var stageDescriptions = map[Stage]string{
	StageAnalyze:     "Analyzing image with AI vision",
	StageValidate:    "Validating image requirements",
	StageMatchRules:  "Searching motor vehicle rules",
	StageWriteRecord: "Saving violation report",
	StageFormat:      "Formatting analysis results",
}

func (s Stage) Description() string {
	return stageDescriptions[s]
}

// RunState is threaded through every stage of one run. Only the executor's
// goroutine touches it.
type RunState struct {
	Image      []byte
	Assessment *violation.Assessment
	Matches    []violation.RuleMatch
	Persisted  *violation.PersistResult
	Skip       bool
	Failure    error
	Formatted  *violation.FormattedResult
}

func newRunState(image []byte) *RunState {
	return &RunState{Image: image, Matches: []violation.RuleMatch{}}
}

// next is the whole graph: a fixed order with one conditional edge after
// Validate and a shortcut to Format when analysis failed.
func next(stage Stage, st *RunState) (Stage, error) {
	switch stage {
	case StageAnalyze:
		if st.Failure != nil {
			return StageFormat, nil
		}
		return StageValidate, nil
	case StageValidate:
		if st.Skip {
			return StageFormat, nil
		}
		return StageMatchRules, nil
	case StageMatchRules:
		return StageWriteRecord, nil
	case StageWriteRecord:
		return StageFormat, nil
	case StageFormat:
		return StageEnd, nil
	default:
		return "", fmt.Errorf("no transition from stage %q", stage)
	}
}

// skipFor is the Validate predicate.
func skipFor(a *violation.Assessment) bool {
	return !a.Valid()
}
