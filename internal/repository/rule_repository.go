package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"thirdeye-service/internal/domain/violation"
)

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type MotorVehicleActRule struct {
	RuleID           string `gorm:"primaryKey"`
	RuleTitle        string `gorm:"not null"`
	RuleText         string `gorm:"not null"`
	Section          string `gorm:"not null"`
	Category         string `gorm:"not null"`
	FineAmountRupees int64  `gorm:"not null"`
	Embedding        string `gorm:"type:vector"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ruleMatchRow struct {
	RuleID           string
	RuleTitle        string
	RuleText         string
	Section          string
	Category         string
	FineAmountRupees int64
	SimilarityScore  float64
}

const searchRulesSQL = `SELECT rule_id, rule_title, rule_text, section, category, fine_amount_rupees,
	1 - (embedding <=> ?::vector) AS similarity_score
FROM motor_vehicle_act_rules
WHERE embedding IS NOT NULL AND 1 - (embedding <=> ?::vector) > ?
ORDER BY similarity_score DESC
LIMIT ?`

// SearchRules returns rules whose cosine similarity to vector exceeds minScore,
// most similar first.
func (r *RuleRepository) SearchRules(ctx context.Context, vector []float32, minScore float64, limit int) ([]violation.RuleMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("search rules: empty embedding")
	}
	literal := VectorLiteral(vector)

	var rows []ruleMatchRow
	if err := r.db.WithContext(ctx).Raw(searchRulesSQL, literal, literal, minScore, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}

	matches := make([]violation.RuleMatch, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, violation.RuleMatch{
			RuleID:     row.RuleID,
			Title:      row.RuleTitle,
			Text:       row.RuleText,
			Section:    row.Section,
			Category:   row.Category,
			FineAmount: row.FineAmountRupees,
			Similarity: row.SimilarityScore,
		})
	}
	return matches, nil
}

// UpsertRule stores a rule and its embedding, replacing any previous version.
func (r *RuleRepository) UpsertRule(ctx context.Context, rule violation.RuleMatch, embedding []float32) error {
	now := time.Now().UTC()
	row := MotorVehicleActRule{
		RuleID:           rule.RuleID,
		RuleTitle:        rule.Title,
		RuleText:         rule.Text,
		Section:          rule.Section,
		Category:         rule.Category,
		FineAmountRupees: rule.FineAmount,
		Embedding:        VectorLiteral(embedding),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rule_title", "rule_text", "section", "category", "fine_amount_rupees", "embedding", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.RuleID, err)
	}
	return nil
}

// VectorLiteral renders a pgvector text literal such as [0.1,0.2].
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
