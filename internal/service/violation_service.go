package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/repository"
	"thirdeye-service/internal/utils"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrRunInProgress = errors.New("run already in progress")
	ErrSessionClosed = errors.New("session already finished")
)

// ViolationStore persists a report together with its optional escalation as
// one unit of work.
type ViolationStore interface {
	CreateReport(ctx context.Context, record *violation.Record, escalation *violation.Escalation) error
	GetReport(ctx context.Context, id string) (*violation.Record, error)
	FindEscalated(ctx context.Context, limit, offset int) ([]violation.EscalatedRecord, error)
}

type ViolationService struct {
	store ViolationStore
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

func NewViolationService(store ViolationStore, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		store: store,
		log:   log.With().Str("component", "record_writer").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Persist writes the violation record for an assessment and, for low
// confidence assessments, its escalation.
func (s *ViolationService) Persist(ctx context.Context, a *violation.Assessment, matches []violation.RuleMatch) (*violation.PersistResult, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: assessment is required", ErrInvalidInput)
	}

	violationType := violation.Normalize(a.ViolationTypes)
	matched := violation.MatchedRules(matches)
	totalMatched := violation.SumFines(matched)
	fine := violation.ComputeFine(matches)
	escalate := violation.ShouldEscalate(a.Confidence)

	applied := make([]violation.AppliedRule, 0, len(matches))
	for _, m := range matches {
		applied = append(applied, violation.AppliedRule{
			RuleID:     m.RuleID,
			Similarity: m.Similarity,
			FineAmount: m.FineAmount,
		})
	}

	record := &violation.Record{
		ID:              s.newID(),
		Type:            violationType,
		Description:     a.Description,
		Severity:        violation.SeverityFor(a.Confidence),
		Status:          violation.StatusFor(a.Confidence),
		Confidence:      a.Confidence,
		RecommendedFine: fine,
		Notes: violation.Notes{
			AnalyzedAt:                  s.now(),
			RulesApplied:                applied,
			MatchedRules:                len(matched),
			TotalMatchedFine:            totalMatched,
			EscalatedDueToLowConfidence: escalate,
		},
	}
	if plate := utils.NormalizePlate(a.VehicleNumber); plate != "" {
		record.VehicleNumber = &plate
	}

	var escalation *violation.Escalation
	if escalate {
		escalation = &violation.Escalation{
			ID:          s.newID(),
			ViolationID: record.ID,
			Reason:      violation.EscalationReason(a.Confidence),
			Level:       violation.EscalationLevel,
			Priority:    violation.EscalationPriority,
		}
	}

	if err := s.store.CreateReport(ctx, record, escalation); err != nil {
		s.log.Error().
			Err(err).
			Str("violation_type", string(violationType)).
			Bool("escalated", escalate).
			Msg("failed to persist violation report")
		return nil, fmt.Errorf("persist violation report: %w", err)
	}

	s.log.Info().
		Str("record_id", record.ID).
		Str("violation_type", string(violationType)).
		Str("status", string(record.Status)).
		Int64("recommended_fine", fine).
		Int("matched_rules", len(matched)).
		Float64("confidence", a.Confidence).
		Msg("saved violation report")

	return &violation.PersistResult{
		RecordID:        record.ID,
		RecommendedFine: fine,
		Status:          record.Status,
		Escalated:       escalate,
	}, nil
}

func (s *ViolationService) GetReport(ctx context.Context, id string) (*violation.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: report id must be a UUID", ErrInvalidInput)
	}
	rec, err := s.store.GetReport(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: report %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rec, nil
}

func (s *ViolationService) ListEscalated(ctx context.Context, limit, offset int) ([]violation.EscalatedRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.store.FindEscalated(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find escalated reports: %w", err)
	}
	return records, nil
}
