package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector;`,
	`CREATE TABLE IF NOT EXISTS motor_vehicle_act_rules (
		rule_id             TEXT PRIMARY KEY,
		rule_title          TEXT NOT NULL,
		rule_text           TEXT NOT NULL,
		section             TEXT NOT NULL,
		category            TEXT NOT NULL,
		fine_amount_rupees  BIGINT NOT NULL DEFAULT 0,
		embedding           vector(768),
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_mva_rules_embedding
		ON motor_vehicle_act_rules USING hnsw (embedding vector_cosine_ops);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'violation_type') THEN
			CREATE TYPE violation_type AS ENUM (
				'speeding', 'rash_driving', 'wrong_parking', 'red_light', 'helmet_violation',
				'seatbelt_violation', 'phone_usage', 'no_license_plate', 'other'
			);
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS violation_reports (
		id                       UUID PRIMARY KEY,
		violation_type           violation_type NOT NULL,
		description              TEXT NOT NULL,
		vehicle_number           TEXT,
		severity                 TEXT NOT NULL,
		status                   TEXT NOT NULL,
		ai_assessment_score      NUMERIC(5,4) NOT NULL,
		recommended_fine_amount  BIGINT NOT NULL,
		notes                    JSONB,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_violation_reports_status ON violation_reports(status);`,
	`CREATE INDEX IF NOT EXISTS idx_violation_reports_created_at ON violation_reports(created_at);`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id                 UUID PRIMARY KEY,
		violation_id       UUID NOT NULL REFERENCES violation_reports(id) ON DELETE CASCADE,
		escalation_reason  TEXT NOT NULL,
		escalation_level   INT NOT NULL,
		priority           TEXT NOT NULL,
		resolved_at        TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_escalations_violation_id ON escalations(violation_id);`,
	`CREATE TABLE IF NOT EXISTS violation_analysis_sessions (
		id             UUID PRIMARY KEY,
		status         TEXT NOT NULL,
		progress_data  JSONB NOT NULL DEFAULT '[]'::jsonb,
		result         JSONB,
		error          TEXT,
		started_at     TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`ALTER TABLE violation_analysis_sessions ADD COLUMN IF NOT EXISTS started_at TIMESTAMPTZ;`,
}

// Migrate applies the schema statements in order. Every statement is idempotent.
func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
