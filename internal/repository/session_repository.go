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

// ErrAlreadyClaimed is returned by Claim when the session exists but has
// already been started or finished.
var ErrAlreadyClaimed = errors.New("session already claimed")

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type AnalysisSession struct {
	ID           string         `gorm:"primaryKey;type:uuid"`
	Status       string         `gorm:"not null"`
	ProgressData datatypes.JSON `gorm:"type:jsonb;not null"`
	Result       datatypes.JSON `gorm:"type:jsonb"`
	Error        *string
	StartedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AnalysisSession) TableName() string {
	return "violation_analysis_sessions"
}

func (r *SessionRepository) CreateSession(ctx context.Context, id string) (*violation.SessionSnapshot, error) {
	now := time.Now().UTC()
	session := AnalysisSession{
		ID:           id,
		Status:       string(violation.SessionProcessing),
		ProgressData: datatypes.JSON("[]"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return toSnapshot(session)
}

func (r *SessionRepository) GetSnapshot(ctx context.Context, id string) (*violation.SessionSnapshot, error) {
	var session AnalysisSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toSnapshot(session)
}

// Claim marks a processing session as started. The conditional UPDATE makes
// the claim atomic across callers and processes: exactly one Claim per
// session succeeds.
func (r *SessionRepository) Claim(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&AnalysisSession{}).
		Where("id = ? AND status = ? AND started_at IS NULL", id, string(violation.SessionProcessing)).
		Updates(map[string]any{"started_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&AnalysisSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return fmt.Errorf("session %s: %w", id, ErrAlreadyClaimed)
}

// AppendEvent appends one event to the session's progress log. The append is
// a single UPDATE so concurrent readers never observe a partially written log.
func (r *SessionRepository) AppendEvent(ctx context.Context, id string, event violation.ProgressEvent) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.update(ctx, id, map[string]any{
		"progress_data": gorm.Expr("progress_data || jsonb_build_array(?::jsonb)", string(encoded)),
		"updated_at":    time.Now().UTC(),
	})
}

// Complete appends the final event and stores the result in the same statement.
func (r *SessionRepository) Complete(ctx context.Context, id string, event violation.ProgressEvent, result *violation.FormattedResult) error {
	return r.finish(ctx, id, violation.SessionComplete, event, result, nil)
}

func (r *SessionRepository) Fail(ctx context.Context, id string, event violation.ProgressEvent, message string, result *violation.FormattedResult) error {
	return r.finish(ctx, id, violation.SessionFailed, event, result, &message)
}

func (r *SessionRepository) finish(ctx context.Context, id string, status violation.SessionStatus, event violation.ProgressEvent, result *violation.FormattedResult, message *string) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	updates := map[string]any{
		"progress_data": gorm.Expr("progress_data || jsonb_build_array(?::jsonb)", string(encoded)),
		"status":        string(status),
		"error":         message,
		"updated_at":    time.Now().UTC(),
	}
	if result != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		updates["result"] = datatypes.JSON(payload)
	}
	return r.update(ctx, id, updates)
}

func (r *SessionRepository) update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&AnalysisSession{}).
		Where("id = ? AND status = ?", id, string(violation.SessionProcessing)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s is not processing: %w", id, ErrNotFound)
	}
	return nil
}

func toSnapshot(session AnalysisSession) (*violation.SessionSnapshot, error) {
	snapshot := &violation.SessionSnapshot{
		ID:        session.ID,
		Status:    violation.SessionStatus(session.Status),
		Events:    []violation.ProgressEvent{},
		Error:     session.Error,
		StartedAt: session.StartedAt,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	if len(session.ProgressData) > 0 {
		if err := json.Unmarshal(session.ProgressData, &snapshot.Events); err != nil {
			return nil, fmt.Errorf("decode progress for %s: %w", session.ID, err)
		}
	}
	if len(session.Result) > 0 && string(session.Result) != "null" {
		snapshot.Result = &violation.FormattedResult{}
		if err := json.Unmarshal(session.Result, snapshot.Result); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", session.ID, err)
		}
	}
	return snapshot, nil
}
