package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/signalintel/internal/types"
)

// SQLStore implements Store on SQLite. Queries are built with the ent SQL
// builder and executed on database/sql.
type SQLStore struct {
	db     *sql.DB
	b      *entsql.DialectBuilder
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLStore wraps an open SQLite database.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		b:      entsql.Dialect(dialect.SQLite),
		logger: logger.Named("store"),
		now:    time.Now,
	}
}

// OpenSQLite opens dsn with the modernc driver and applies the schema.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := NewSQLStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock overrides the clock used when decoding degrades a timestamp.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

type querier interface {
	Query() (string, []any)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) exec(ctx context.Context, q querier) (sql.Result, error) {
	query, args := q.Query()
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SQLStore) query(ctx context.Context, q querier) (*sql.Rows, error) {
	query, args := q.Query()
	return s.db.QueryContext(ctx, query, args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q querier) *sql.Row {
	query, args := q.Query()
	return s.db.QueryRowContext(ctx, query, args...)
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// ─── Signals ───────────────────────────────────────────────────────────────────

var signalColumns = []string{
	"id", "signal_type", "valence", "magnitude", "severity", "entity_type", "entity_id",
	"scope_client_id", "scope_brand_id", "scope_project_id", "scope_retainer_id", "scope_task_id",
	"status", "detected_at", "detector_id", "balanced_by", "balanced_at", "expires_at", "evidence",
}

func (s *SQLStore) CreateSignal(ctx context.Context, sig types.Signal) error {
	var evidence any
	if len(sig.Evidence) > 0 {
		evidence = string(sig.Evidence)
	}
	ins := s.b.Insert(tableSignals).Columns(signalColumns...).Values(
		sig.ID, sig.SignalType, int(sig.Valence), sig.Magnitude, string(sig.Severity), sig.EntityType, sig.EntityID,
		nullStringPtr(sig.Scope.ClientID), nullStringPtr(sig.Scope.BrandID), nullStringPtr(sig.Scope.ProjectID),
		nullStringPtr(sig.Scope.RetainerID), nullStringPtr(sig.Scope.TaskID),
		string(sig.Status), encodeTime(sig.DetectedAt), nullString(sig.DetectorID), nullString(sig.BalancedBy),
		encodeTimePtr(sig.BalancedAt), encodeTimePtr(sig.ExpiresAt), evidence,
	)
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("create signal %s: %w", sig.ID, err)
	}
	return nil
}

func scanSignal(row scanner) (types.Signal, error) {
	var (
		sig                                           types.Signal
		valence                                       int
		severity, status, detectedAt                  string
		client, brand, project, retainer, task        sql.NullString
		detectorID, balancedBy, balancedAt, expiresAt sql.NullString
		evidence                                      sql.NullString
	)
	err := row.Scan(
		&sig.ID, &sig.SignalType, &valence, &sig.Magnitude, &severity, &sig.EntityType, &sig.EntityID,
		&client, &brand, &project, &retainer, &task,
		&status, &detectedAt, &detectorID, &balancedBy, &balancedAt, &expiresAt, &evidence,
	)
	if err != nil {
		return types.Signal{}, err
	}
	sig.Valence = types.Valence(valence)
	sig.Severity = types.Severity(severity)
	sig.Status = types.SignalStatus(status)
	sig.Scope = types.Scope{
		ClientID:   stringPtr(client),
		BrandID:    stringPtr(brand),
		ProjectID:  stringPtr(project),
		RetainerID: stringPtr(retainer),
		TaskID:     stringPtr(task),
	}
	sig.DetectorID = detectorID.String
	sig.BalancedBy = balancedBy.String
	if evidence.Valid && evidence.String != "" {
		sig.Evidence = []byte(evidence.String)
	}
	if sig.DetectedAt, err = decodeTime("detected_at", detectedAt); err != nil {
		return types.Signal{}, err
	}
	if sig.BalancedAt, err = decodeNullTime("balanced_at", balancedAt); err != nil {
		return types.Signal{}, err
	}
	if sig.ExpiresAt, err = decodeNullTime("expires_at", expiresAt); err != nil {
		return types.Signal{}, err
	}
	return sig, nil
}

func (s *SQLStore) GetSignal(ctx context.Context, id string) (types.Signal, error) {
	sel := s.b.Select(signalColumns...).From(s.b.Table(tableSignals)).Where(entsql.EQ("id", id))
	sig, err := scanSignal(s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Signal{}, fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.Signal{}, fmt.Errorf("get signal %s: %w", id, err)
	}
	return sig, nil
}

func (s *SQLStore) SignalExists(ctx context.Context, signalType, entityID string) (bool, error) {
	n, err := s.CountSignals(ctx, SignalQuery{
		SignalTypes: []string{signalType},
		EntityID:    entityID,
		Statuses:    []types.SignalStatus{types.StatusActive},
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) signalPredicate(q SignalQuery) *entsql.Predicate {
	var preds []*entsql.Predicate
	if len(q.SignalTypes) > 0 {
		args := make([]any, len(q.SignalTypes))
		for i, t := range q.SignalTypes {
			args[i] = t
		}
		preds = append(preds, entsql.In("signal_type", args...))
	}
	if len(q.Statuses) > 0 {
		args := make([]any, len(q.Statuses))
		for i, st := range q.Statuses {
			args[i] = string(st)
		}
		preds = append(preds, entsql.In("status", args...))
	}
	if q.Valence != nil {
		preds = append(preds, entsql.EQ("valence", int(*q.Valence)))
	}
	if q.EntityType != "" {
		preds = append(preds, entsql.EQ("entity_type", q.EntityType))
	}
	if q.EntityID != "" {
		preds = append(preds, entsql.EQ("entity_id", q.EntityID))
	}
	if q.ClientID != "" {
		preds = append(preds, entsql.EQ("scope_client_id", q.ClientID))
	}
	if q.DetectedSince != nil {
		preds = append(preds, entsql.GTE("detected_at", encodeTime(*q.DetectedSince)))
	}
	if q.ExcludeID != "" {
		preds = append(preds, entsql.NEQ("id", q.ExcludeID))
	}
	if len(preds) == 0 {
		return nil
	}
	return entsql.And(preds...)
}

func (s *SQLStore) ListSignals(ctx context.Context, q SignalQuery) ([]types.Signal, error) {
	sel := s.b.Select(signalColumns...).From(s.b.Table(tableSignals))
	if p := s.signalPredicate(q); p != nil {
		sel.Where(p)
	}
	sel.OrderBy(entsql.Desc("detected_at"), entsql.Asc("id"))
	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("list signals: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountSignals(ctx context.Context, q SignalQuery) (int, error) {
	sel := s.b.Select(entsql.Count("*")).From(s.b.Table(tableSignals))
	if p := s.signalPredicate(q); p != nil {
		sel.Where(p)
	}
	var n int
	if err := s.queryRow(ctx, sel).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

func (s *SQLStore) MarkBalanced(ctx context.Context, id, balancedBy string, at time.Time) (bool, error) {
	upd := s.b.Update(tableSignals).
		Set("status", string(types.StatusBalanced)).
		Set("balanced_by", balancedBy).
		Set("balanced_at", encodeTime(at)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.StatusActive))))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return false, fmt.Errorf("mark balanced %s: %w", id, err)
	}
	if rowsAffected(res) > 0 {
		return true, nil
	}
	if _, err := s.GetSignal(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) UpdateSignalStatus(ctx context.Context, id string, status types.SignalStatus) error {
	res, err := s.exec(ctx, s.b.Update(tableSignals).Set("status", string(status)).Where(entsql.EQ("id", id)))
	if err != nil {
		return fmt.Errorf("update signal status %s: %w", id, err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ExpireSignals(ctx context.Context, now time.Time) (int, error) {
	upd := s.b.Update(tableSignals).
		Set("status", string(types.StatusArchived)).
		Where(entsql.And(
			entsql.EQ("status", string(types.StatusActive)),
			entsql.NotNull("expires_at"),
			entsql.LTE("expires_at", encodeTime(now)),
		))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return 0, fmt.Errorf("expire signals: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) DeleteArchivedSignals(ctx context.Context, cutoff time.Time) (int, error) {
	del := s.b.Delete(tableSignals).
		Where(entsql.And(
			entsql.EQ("status", string(types.StatusArchived)),
			entsql.LT("detected_at", encodeTime(cutoff)),
		))
	res, err := s.exec(ctx, del)
	if err != nil {
		return 0, fmt.Errorf("delete archived signals: %w", err)
	}
	return rowsAffected(res), nil
}

// ─── Issues ────────────────────────────────────────────────────────────────────

var issueColumns = []string{
	"id", "title", "signal_ids", "state",
	"balance_negative_magnitude", "balance_positive_magnitude", "balance_net_score",
	"balance_negative_count", "balance_positive_count", "balance_calculated_at",
	"resolved_at", "resolution_method", "monitoring_until", "created_at",
}

func (s *SQLStore) CreateIssue(ctx context.Context, issue types.Issue) error {
	ids, err := encodeIDs(issue.SignalIDs)
	if err != nil {
		return fmt.Errorf("create issue %s: %w", issue.ID, err)
	}
	b := issue.Balance
	ins := s.b.Insert(tableIssues).Columns(issueColumns...).Values(
		issue.ID, issue.Title, ids, string(issue.State),
		b.NegativeMagnitude, b.PositiveMagnitude, b.NetScore,
		b.NegativeCount, b.PositiveCount, encodeTimePtr(b.CalculatedAt),
		encodeTimePtr(issue.ResolvedAt), nullString(issue.ResolutionMethod), encodeTimePtr(issue.MonitoringUntil),
		encodeTime(issue.CreatedAt),
	)
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("create issue %s: %w", issue.ID, err)
	}
	return nil
}

func scanIssue(row scanner) (types.Issue, error) {
	var (
		issue                                types.Issue
		ids, state, createdAt                string
		calculatedAt, resolvedAt, monitoring sql.NullString
		method                               sql.NullString
	)
	err := row.Scan(
		&issue.ID, &issue.Title, &ids, &state,
		&issue.Balance.NegativeMagnitude, &issue.Balance.PositiveMagnitude, &issue.Balance.NetScore,
		&issue.Balance.NegativeCount, &issue.Balance.PositiveCount, &calculatedAt,
		&resolvedAt, &method, &monitoring, &createdAt,
	)
	if err != nil {
		return types.Issue{}, err
	}
	issue.State = types.IssueState(state)
	issue.ResolutionMethod = method.String
	if issue.SignalIDs, err = decodeIDs(ids); err != nil {
		return types.Issue{}, err
	}
	if issue.Balance.CalculatedAt, err = decodeNullTime("balance_calculated_at", calculatedAt); err != nil {
		return types.Issue{}, err
	}
	if issue.ResolvedAt, err = decodeNullTime("resolved_at", resolvedAt); err != nil {
		return types.Issue{}, err
	}
	if issue.MonitoringUntil, err = decodeNullTime("monitoring_until", monitoring); err != nil {
		return types.Issue{}, err
	}
	if issue.CreatedAt, err = decodeTime("created_at", createdAt); err != nil {
		return types.Issue{}, err
	}
	return issue, nil
}

func (s *SQLStore) GetIssue(ctx context.Context, id string) (types.Issue, error) {
	sel := s.b.Select(issueColumns...).From(s.b.Table(tableIssues)).Where(entsql.EQ("id", id))
	issue, err := scanIssue(s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Issue{}, fmt.Errorf("issue %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.Issue{}, fmt.Errorf("get issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *SQLStore) UpdateIssue(ctx context.Context, issue types.Issue) error {
	ids, err := encodeIDs(issue.SignalIDs)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issue.ID, err)
	}
	b := issue.Balance
	upd := s.b.Update(tableIssues).
		Set("title", issue.Title).
		Set("signal_ids", ids).
		Set("state", string(issue.State)).
		Set("balance_negative_magnitude", b.NegativeMagnitude).
		Set("balance_positive_magnitude", b.PositiveMagnitude).
		Set("balance_net_score", b.NetScore).
		Set("balance_negative_count", b.NegativeCount).
		Set("balance_positive_count", b.PositiveCount).
		Set("balance_calculated_at", encodeTimePtr(b.CalculatedAt)).
		Set("resolved_at", encodeTimePtr(issue.ResolvedAt)).
		Set("resolution_method", nullString(issue.ResolutionMethod)).
		Set("monitoring_until", encodeTimePtr(issue.MonitoringUntil)).
		Where(entsql.EQ("id", issue.ID))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issue.ID, err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("issue %s: %w", issue.ID, types.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) listIssues(ctx context.Context, p *entsql.Predicate) ([]types.Issue, error) {
	sel := s.b.Select(issueColumns...).From(s.b.Table(tableIssues))
	if p != nil {
		sel.Where(p)
	}
	sel.OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (s *SQLStore) IssuesContainingSignal(ctx context.Context, signalID string) ([]types.Issue, error) {
	return s.listIssues(ctx, entsql.ExprP(
		"EXISTS (SELECT 1 FROM json_each(signal_ids) WHERE json_each.value = ?)", signalID,
	))
}

func (s *SQLStore) ListIssues(ctx context.Context, states ...types.IssueState) ([]types.Issue, error) {
	if len(states) == 0 {
		return s.listIssues(ctx, nil)
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return s.listIssues(ctx, entsql.In("state", args...))
}
