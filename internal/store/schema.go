package store

import (
	"context"
	"fmt"
)

const (
	tableSignals           = "signals"
	tableIssues            = "issues"
	tableLifecycle         = "signal_lifecycle"
	tableSuppressions      = "signal_suppressions"
	tableSuppressionEvents = "signal_suppression_events"
)

// schema is applied by Migrate. Timestamps are TEXT in timeLayout; JSON
// columns hold arrays encoded by codec.go.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id                TEXT PRIMARY KEY,
		signal_type       TEXT NOT NULL,
		valence           INTEGER NOT NULL,
		magnitude         REAL NOT NULL,
		severity          TEXT NOT NULL,
		entity_type       TEXT NOT NULL,
		entity_id         TEXT NOT NULL,
		scope_client_id   TEXT,
		scope_brand_id    TEXT,
		scope_project_id  TEXT,
		scope_retainer_id TEXT,
		scope_task_id     TEXT,
		status            TEXT NOT NULL,
		detected_at       TEXT NOT NULL,
		detector_id       TEXT,
		balanced_by       TEXT,
		balanced_at       TEXT,
		expires_at        TEXT,
		evidence          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_type_entity ON signals (signal_type, entity_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_status_valence ON signals (status, valence, detected_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_client ON signals (scope_client_id, status)`,

	`CREATE TABLE IF NOT EXISTS issues (
		id                          TEXT PRIMARY KEY,
		title                       TEXT NOT NULL,
		signal_ids                  TEXT NOT NULL DEFAULT '[]',
		state                       TEXT NOT NULL,
		balance_negative_magnitude  REAL NOT NULL DEFAULT 0,
		balance_positive_magnitude  REAL NOT NULL DEFAULT 0,
		balance_net_score           REAL NOT NULL DEFAULT 0,
		balance_negative_count      INTEGER NOT NULL DEFAULT 0,
		balance_positive_count      INTEGER NOT NULL DEFAULT 0,
		balance_calculated_at       TEXT,
		resolved_at                 TEXT,
		resolution_method           TEXT,
		monitoring_until            TEXT,
		created_at                  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS signal_lifecycle (
		signal_key          TEXT PRIMARY KEY,
		signal_type         TEXT NOT NULL,
		entity_type         TEXT NOT NULL,
		entity_id           TEXT NOT NULL,
		severity            TEXT NOT NULL,
		detected_at         TEXT NOT NULL,
		first_detected_at   TEXT NOT NULL,
		detection_count     INTEGER NOT NULL DEFAULT 1,
		consecutive_cycles  INTEGER NOT NULL DEFAULT 1,
		initial_severity    TEXT NOT NULL,
		peak_severity       TEXT NOT NULL,
		escalation_history  TEXT NOT NULL DEFAULT '[]',
		resolved_at         TEXT,
		resolution_type     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_first_detected ON signal_lifecycle (first_detected_at)`,

	`CREATE TABLE IF NOT EXISTS signal_suppressions (
		id             TEXT PRIMARY KEY,
		signal_key     TEXT NOT NULL,
		entity_type    TEXT NOT NULL,
		entity_id      TEXT NOT NULL,
		reason         TEXT NOT NULL,
		suppressed_at  TEXT NOT NULL,
		expires_at     TEXT NOT NULL,
		dismiss_count  INTEGER NOT NULL DEFAULT 1,
		is_active      INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suppressions_key ON signal_suppressions (signal_key, is_active)`,

	`CREATE TABLE IF NOT EXISTS signal_suppression_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_key  TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suppression_events_key ON signal_suppression_events (signal_key, event_type)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
