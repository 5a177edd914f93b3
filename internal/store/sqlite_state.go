package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/types"
)

// ─── Lifecycle ─────────────────────────────────────────────────────────────────

var lifecycleColumns = []string{
	"signal_key", "signal_type", "entity_type", "entity_id", "severity",
	"detected_at", "first_detected_at", "detection_count", "consecutive_cycles",
	"initial_severity", "peak_severity", "escalation_history", "resolved_at", "resolution_type",
}

func (s *SQLStore) SaveLifecycle(ctx context.Context, rec types.LifecycleRecord) error {
	history, err := encodeHistory(rec.EscalationHistory)
	if err != nil {
		return fmt.Errorf("save lifecycle %s: %w", rec.SignalKey, err)
	}
	ins := s.b.Insert(tableLifecycle).Columns(lifecycleColumns...).Values(
		rec.SignalKey, rec.SignalType, rec.EntityType, rec.EntityID, string(rec.Severity),
		encodeTime(rec.DetectedAt), encodeTime(rec.FirstDetectedAt), rec.DetectionCount, rec.ConsecutiveCycles,
		string(rec.InitialSeverity), string(rec.PeakSeverity), history,
		encodeTimePtr(rec.ResolvedAt), nullString(rec.ResolutionType),
	).OnConflict(
		entsql.ConflictColumns("signal_key"),
		entsql.ResolveWithNewValues(),
	)
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("save lifecycle %s: %w", rec.SignalKey, err)
	}
	return nil
}

// timeOrNow decodes a lifecycle timestamp. A value that cannot be decoded is
// logged and read as the current time so classification always proceeds.
func (s *SQLStore) timeOrNow(key, field, raw string) time.Time {
	t, err := decodeTime(field, raw)
	if err != nil {
		s.logger.Warn("unreadable lifecycle timestamp, using now",
			zap.String("signal_key", key), zap.Error(err))
		return s.now()
	}
	return t
}

func (s *SQLStore) scanLifecycle(row scanner) (types.LifecycleRecord, error) {
	var (
		rec                                  types.LifecycleRecord
		severity, initial, peak              string
		detectedAt, firstDetectedAt, history string
		resolvedAt, resolutionType           sql.NullString
	)
	err := row.Scan(
		&rec.SignalKey, &rec.SignalType, &rec.EntityType, &rec.EntityID, &severity,
		&detectedAt, &firstDetectedAt, &rec.DetectionCount, &rec.ConsecutiveCycles,
		&initial, &peak, &history, &resolvedAt, &resolutionType,
	)
	if err != nil {
		return types.LifecycleRecord{}, err
	}
	rec.Severity = types.Severity(severity)
	rec.InitialSeverity = types.Severity(initial)
	rec.PeakSeverity = types.Severity(peak)
	rec.ResolutionType = resolutionType.String
	rec.DetectedAt = s.timeOrNow(rec.SignalKey, "detected_at", detectedAt)
	rec.FirstDetectedAt = s.timeOrNow(rec.SignalKey, "first_detected_at", firstDetectedAt)
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := s.timeOrNow(rec.SignalKey, "resolved_at", resolvedAt.String)
		rec.ResolvedAt = &t
	}
	rec.EscalationHistory, err = decodeHistory(history)
	if err != nil {
		s.logger.Warn("unreadable escalation history, treating as empty",
			zap.String("signal_key", rec.SignalKey), zap.Error(err))
		rec.EscalationHistory = []types.EscalationEntry{}
	}
	return rec, nil
}

func (s *SQLStore) GetLifecycle(ctx context.Context, key string) (types.LifecycleRecord, error) {
	sel := s.b.Select(lifecycleColumns...).From(s.b.Table(tableLifecycle)).Where(entsql.EQ("signal_key", key))
	rec, err := s.scanLifecycle(s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return types.LifecycleRecord{}, fmt.Errorf("lifecycle %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.LifecycleRecord{}, fmt.Errorf("get lifecycle %s: %w", key, err)
	}
	return rec, nil
}

func (s *SQLStore) ListLifecycle(ctx context.Context, q LifecycleQuery) ([]types.LifecycleRecord, error) {
	sel := s.b.Select(lifecycleColumns...).From(s.b.Table(tableLifecycle))
	var preds []*entsql.Predicate
	if !q.IncludeResolved {
		preds = append(preds, entsql.IsNull("resolved_at"))
	}
	if q.Severity != "" {
		preds = append(preds, entsql.EQ("severity", string(q.Severity)))
	}
	if len(q.SignalTypes) > 0 {
		args := make([]any, len(q.SignalTypes))
		for i, t := range q.SignalTypes {
			args[i] = t
		}
		preds = append(preds, entsql.In("signal_type", args...))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Asc("first_detected_at"), entsql.Asc("signal_key"))

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list lifecycle: %w", err)
	}
	defer rows.Close()

	var out []types.LifecycleRecord
	for rows.Next() {
		rec, err := s.scanLifecycle(rows)
		if err != nil {
			return nil, fmt.Errorf("list lifecycle: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─── Suppressions ──────────────────────────────────────────────────────────────

var suppressionColumns = []string{
	"id", "signal_key", "entity_type", "entity_id", "reason",
	"suppressed_at", "expires_at", "dismiss_count", "is_active",
}

func (s *SQLStore) InsertSuppression(ctx context.Context, rec types.SuppressionRecord) error {
	ins := s.b.Insert(tableSuppressions).Columns(suppressionColumns...).Values(
		rec.ID, rec.SignalKey, rec.EntityType, rec.EntityID, string(rec.Reason),
		encodeTime(rec.SuppressedAt), encodeTime(rec.ExpiresAt), rec.DismissCount, boolInt(rec.IsActive),
	)
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("insert suppression %s: %w", rec.SignalKey, err)
	}
	return nil
}

func scanSuppression(row scanner) (types.SuppressionRecord, error) {
	var (
		rec                     types.SuppressionRecord
		reason                  string
		suppressedAt, expiresAt string
		active                  int
	)
	err := row.Scan(
		&rec.ID, &rec.SignalKey, &rec.EntityType, &rec.EntityID, &reason,
		&suppressedAt, &expiresAt, &rec.DismissCount, &active,
	)
	if err != nil {
		return types.SuppressionRecord{}, err
	}
	rec.Reason = types.SuppressionReason(reason)
	rec.IsActive = active != 0
	if rec.SuppressedAt, err = decodeTime("suppressed_at", suppressedAt); err != nil {
		return types.SuppressionRecord{}, err
	}
	if rec.ExpiresAt, err = decodeTime("expires_at", expiresAt); err != nil {
		return types.SuppressionRecord{}, err
	}
	return rec, nil
}

func (s *SQLStore) firstSuppression(ctx context.Context, key string, p *entsql.Predicate) (types.SuppressionRecord, error) {
	sel := s.b.Select(suppressionColumns...).From(s.b.Table(tableSuppressions)).
		Where(p).
		OrderBy(entsql.Desc("suppressed_at"), entsql.Desc("dismiss_count")).
		Limit(1)
	rec, err := scanSuppression(s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return types.SuppressionRecord{}, fmt.Errorf("suppression %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.SuppressionRecord{}, fmt.Errorf("get suppression %s: %w", key, err)
	}
	return rec, nil
}

func (s *SQLStore) LatestSuppression(ctx context.Context, key string) (types.SuppressionRecord, error) {
	return s.firstSuppression(ctx, key, entsql.EQ("signal_key", key))
}

func (s *SQLStore) ActiveSuppression(ctx context.Context, key string, now time.Time) (types.SuppressionRecord, error) {
	return s.firstSuppression(ctx, key, entsql.And(
		entsql.EQ("signal_key", key),
		entsql.EQ("is_active", 1),
		entsql.GT("expires_at", encodeTime(now)),
	))
}

func (s *SQLStore) ListActiveSuppressions(ctx context.Context) ([]types.SuppressionRecord, error) {
	sel := s.b.Select(suppressionColumns...).From(s.b.Table(tableSuppressions)).
		Where(entsql.EQ("is_active", 1)).
		OrderBy(entsql.Desc("suppressed_at"))
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []types.SuppressionRecord
	for rows.Next() {
		rec, err := scanSuppression(rows)
		if err != nil {
			return nil, fmt.Errorf("list suppressions: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeactivateSuppressions(ctx context.Context, key string) (int, error) {
	upd := s.b.Update(tableSuppressions).
		Set("is_active", 0).
		Where(entsql.And(entsql.EQ("signal_key", key), entsql.EQ("is_active", 1)))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return 0, fmt.Errorf("deactivate suppressions %s: %w", key, err)
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) ExpireSuppressions(ctx context.Context, now time.Time) (int, error) {
	upd := s.b.Update(tableSuppressions).
		Set("is_active", 0).
		Where(entsql.And(entsql.EQ("is_active", 1), entsql.LTE("expires_at", encodeTime(now))))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return 0, fmt.Errorf("expire suppressions: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) AppendSuppressionEvent(ctx context.Context, ev types.SuppressionEvent) error {
	ins := s.b.Insert(tableSuppressionEvents).
		Columns("signal_key", "event_type", "created_at").
		Values(ev.SignalKey, string(ev.EventType), encodeTime(ev.CreatedAt))
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("append suppression event %s: %w", ev.SignalKey, err)
	}
	return nil
}

func (s *SQLStore) CountSuppressionEvents(ctx context.Context, key string) (int, int, error) {
	sel := s.b.Select("event_type", entsql.Count("*")).
		From(s.b.Table(tableSuppressionEvents)).
		Where(entsql.EQ("signal_key", key)).
		GroupBy("event_type")
	rows, err := s.query(ctx, sel)
	if err != nil {
		return 0, 0, fmt.Errorf("count suppression events %s: %w", key, err)
	}
	defer rows.Close()

	var raised, dismissed int
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return 0, 0, fmt.Errorf("count suppression events %s: %w", key, err)
		}
		switch types.SuppressionEventType(eventType) {
		case types.EventRaised:
			raised = n
		case types.EventDismissed:
			dismissed = n
		}
	}
	return raised, dismissed, rows.Err()
}
