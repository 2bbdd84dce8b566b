package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"thirdeye-service/internal/domain/violation"
)

var ErrNotFound = errors.New("record not found")

type ViolationRepository struct {
	db *gorm.DB
}

func NewViolationRepository(db *gorm.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

type ViolationReport struct {
	ID                    string `gorm:"primaryKey;type:uuid"`
	ViolationType         string `gorm:"not null"`
	Description           string `gorm:"not null"`
	VehicleNumber         *string
	Severity              string         `gorm:"not null"`
	Status                string         `gorm:"not null"`
	AIAssessmentScore     float64        `gorm:"column:ai_assessment_score;not null"`
	RecommendedFineAmount int64          `gorm:"not null"`
	Notes                 datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Escalation struct {
	ID               string `gorm:"primaryKey;type:uuid"`
	ViolationID      string `gorm:"type:uuid;not null"`
	EscalationReason string `gorm:"not null"`
	EscalationLevel  int    `gorm:"not null"`
	Priority         string `gorm:"not null"`
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}

// CreateReport inserts the report and, when non-nil, its escalation inside one
// transaction. Neither row survives if either insert fails.
func (r *ViolationRepository) CreateReport(ctx context.Context, record *violation.Record, escalation *violation.Escalation) error {
	notes, err := json.Marshal(record.Notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	now := time.Now().UTC()
	report := ViolationReport{
		ID:                    record.ID,
		ViolationType:         string(record.Type),
		Description:           record.Description,
		VehicleNumber:         record.VehicleNumber,
		Severity:              string(record.Severity),
		Status:                string(record.Status),
		AIAssessmentScore:     record.Confidence,
		RecommendedFineAmount: record.RecommendedFine,
		Notes:                 datatypes.JSON(notes),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&report).Error; err != nil {
			return fmt.Errorf("insert violation report: %w", err)
		}
		if escalation == nil {
			return nil
		}
		row := Escalation{
			ID:               escalation.ID,
			ViolationID:      report.ID,
			EscalationReason: escalation.Reason,
			EscalationLevel:  escalation.Level,
			Priority:         escalation.Priority,
			CreatedAt:        now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert escalation: %w", err)
		}
		return nil
	})
}

func (r *ViolationRepository) GetReport(ctx context.Context, id string) (*violation.Record, error) {
	var report ViolationReport
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecord(report)
}

type escalatedRow struct {
	ViolationReport
	EscalationReason string
}

// FindEscalated lists escalated reports, newest first, with their escalation reason.
func (r *ViolationRepository) FindEscalated(ctx context.Context, limit, offset int) ([]violation.EscalatedRecord, error) {
	query := r.db.WithContext(ctx).
		Table("violation_reports").
		Select("violation_reports.*, escalations.escalation_reason").
		Joins("LEFT JOIN escalations ON escalations.violation_id = violation_reports.id").
		Where("violation_reports.status = ?", string(violation.StatusEscalated)).
		Order("violation_reports.created_at DESC")

	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query = query.Limit(limit)
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []escalatedRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]violation.EscalatedRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row.ViolationReport)
		if err != nil {
			return nil, err
		}
		result = append(result, violation.EscalatedRecord{Record: *rec, EscalationReason: row.EscalationReason})
	}
	return result, nil
}

func toRecord(report ViolationReport) (*violation.Record, error) {
	rec := &violation.Record{
		ID:              report.ID,
		Type:            violation.Type(report.ViolationType),
		Description:     report.Description,
		VehicleNumber:   report.VehicleNumber,
		Severity:        violation.Severity(report.Severity),
		Status:          violation.Status(report.Status),
		Confidence:      report.AIAssessmentScore,
		RecommendedFine: report.RecommendedFineAmount,
		CreatedAt:       report.CreatedAt,
	}
	if len(report.Notes) > 0 {
		if err := json.Unmarshal(report.Notes, &rec.Notes); err != nil {
			return nil, fmt.Errorf("decode notes for %s: %w", report.ID, err)
		}
	}
	return rec, nil
}
