package violation

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusEscalated     Status = "escalated"
)

// Assessment is the structured output of the vision stage. It is produced once
// per run and never mutated afterwards.
type Assessment struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	ViolationTypes   string  `json:"violationTypes"`
	RegionMatch      bool    `json:"regionMatch"`
	VehiclePresent   bool    `json:"vehiclePresent"`
	ViolationPresent bool    `json:"violationPresent"`
	PlatePresent     bool    `json:"platePresent"`
	Confidence       float64 `json:"confidence"`
	VehicleNumber    string  `json:"vehicleNumber,omitempty"`
}

// Labels splits the raw comma separated violation types.
func (a *Assessment) Labels() []string {
	if a == nil || strings.TrimSpace(a.ViolationTypes) == "" {
		return []string{}
	}
	parts := strings.Split(a.ViolationTypes, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// Valid reports whether all four detection flags are set.
func (a *Assessment) Valid() bool {
	return a != nil && a.RegionMatch && a.VehiclePresent && a.ViolationPresent && a.PlatePresent
}

type RuleMatch struct {
	RuleID     string  `json:"ruleId"`
	Title      string  `json:"ruleTitle"`
	Text       string  `json:"ruleText"`
	Section    string  `json:"section"`
	Category   string  `json:"category"`
	FineAmount int64   `json:"fineAmount"`
	Similarity float64 `json:"similarityScore"`
}

// Record is a persisted violation report.
type Record struct {
	ID              string    `json:"id"`
	Type            Type      `json:"violation_type"`
	Description     string    `json:"description"`
	VehicleNumber   *string   `json:"vehicle_number,omitempty"`
	Severity        Severity  `json:"severity"`
	Status          Status    `json:"status"`
	Confidence      float64   `json:"ai_assessment_score"`
	RecommendedFine int64     `json:"recommended_fine_amount"`
	Notes           Notes     `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

type AppliedRule struct {
	RuleID     string  `json:"ruleId"`
	Similarity float64 `json:"similarity"`
	FineAmount int64   `json:"fineAmount"`
}

type Notes struct {
	AnalyzedAt                  time.Time     `json:"analyzedAt"`
	RulesApplied                []AppliedRule `json:"rulesApplied"`
	MatchedRules                int           `json:"matchedRules"`
	TotalMatchedFine            int64         `json:"totalMatchedFine"`
	EscalatedDueToLowConfidence bool          `json:"escalatedDueToLowConfidence"`
}

// Escalation flags a record for manual review.
type Escalation struct {
	ID          string    `json:"id"`
	ViolationID string    `json:"violation_id"`
	Reason      string    `json:"escalation_reason"`
	Level       int       `json:"escalation_level"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

type EscalatedRecord struct {
	Record
	EscalationReason string `json:"escalation_reason"`
}

type PersistResult struct {
	RecordID        string `json:"record_id"`
	RecommendedFine int64  `json:"recommended_fine"`
	Status          Status `json:"status"`
	Escalated       bool   `json:"escalated"`
}

type EventType string

const (
	EventStageStart  EventType = "stage_start"
	EventStageEnd    EventType = "stage_end"
	EventError       EventType = "error"
	EventFinalResult EventType = "final_result"
)

// ProgressEvent is one entry of a run's append-only progress log.
type ProgressEvent struct {
	Type      EventType `json:"type"`
	Stage     string    `json:"node,omitempty"`
	Data      any       `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

func (e ProgressEvent) Terminal() bool {
	return e.Type == EventError || e.Type == EventFinalResult
}

type ErrorPayload struct {
	Message string           `json:"message"`
	Result  *FormattedResult `json:"result,omitempty"`
}

type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionComplete   SessionStatus = "complete"
	SessionFailed     SessionStatus = "failed"
)

type SessionSnapshot struct {
	ID        string           `json:"id"`
	Status    SessionStatus    `json:"status"`
	Events    []ProgressEvent  `json:"progress_data"`
	Result    *FormattedResult `json:"result"`
	Error     *string          `json:"error"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type FormattedViolation struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Types         []string `json:"types"`
	Confidence    float64  `json:"confidence"`
	VehicleNumber string   `json:"vehicleNumber,omitempty"`
}

type Validation struct {
	IsValid  bool     `json:"isValid"`
	Messages []string `json:"messages"`
}

// FormattedResult is the client facing summary of a run.
type FormattedResult struct {
	Status          string             `json:"status"`
	Violation       FormattedViolation `json:"violation"`
	Validation      Validation         `json:"validation"`
	ApplicableRules []RuleMatch        `json:"applicableRules"`
	ReportID        string             `json:"reportId,omitempty"`
	RecommendedFine int64              `json:"recommendedFine,omitempty"`
}
