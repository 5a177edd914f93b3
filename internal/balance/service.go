// Package balance matches new positive signals against open negative ones and
// keeps issue balance scores current. Rules come from a CUE table loaded
// once at startup; see rules.cue.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/event"
	"github.com/matthewbaird/signalintel/internal/keylock"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/temporal"
	"github.com/matthewbaird/signalintel/internal/types"
)

const (
	// ResolutionSignalsBalanced is stamped on issues moved to monitoring by a recalculation.
	ResolutionSignalsBalanced = "signals_balanced"

	// MonitoringPeriod is how long an auto-resolved issue stays in monitoring.
	MonitoringPeriod = 90 * 24 * time.Hour

	// CheckLimit caps the positives examined by RunBalanceCheck.
	CheckLimit = 1000
)

// Result describes what one positive signal balanced.
type Result struct {
	PositiveID  string   `json:"positive_id"`
	Balanced    []string `json:"balanced"`
	Issues      []string `json:"issues_recalculated"`
	Transitions int      `json:"transitions"`
}

// CheckStats aggregates a RunBalanceCheck pass.
type CheckStats struct {
	PositivesChecked   int `json:"positives_checked"`
	SignalsBalanced    int `json:"signals_balanced"`
	IssuesRecalculated int `json:"issues_recalculated"`
	IssuesTransitioned int `json:"issues_transitioned"`
}

// Service applies the balance rules. Balancing is serialized per negative
// signal id and recalculation per issue id.
type Service struct {
	rules     *Rules
	signals   store.SignalStore
	issues    store.IssueStore
	publisher event.Publisher
	locks     keylock.Map
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a Service using rules over the given stores.
func New(rules *Rules, signals store.SignalStore, issues store.IssueStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rules:     rules,
		signals:   signals,
		issues:    issues,
		publisher: event.Discard,
		logger:    logger.Named("balance"),
		now:       time.Now,
	}
}

// SetPublisher sets where balance and issue transition events go.
func (s *Service) SetPublisher(p event.Publisher) {
	if p == nil {
		p = event.Discard
	}
	s.publisher = p
}

// SetClock replaces the service's clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Rules returns the loaded rule table.
func (s *Service) Rules() *Rules { return s.rules }

// ProcessNewSignal balances every active negative signal that pos can
// balance, then recalculates the open issues containing them. Signals that
// are not positive are ignored.
func (s *Service) ProcessNewSignal(ctx context.Context, pos types.Signal) (Result, error) {
	res := Result{PositiveID: pos.ID}
	if pos.Valence != types.ValencePositive {
		return res, nil
	}
	candidates, err := s.candidates(ctx, pos)
	if err != nil {
		return res, err
	}

	touched := make(map[string]bool)
	for _, neg := range candidates {
		ok, err := s.canBalanceSignal(ctx, neg, pos)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		marked, err := s.markBalanced(ctx, neg, pos)
		if err != nil {
			return res, err
		}
		if !marked {
			continue
		}
		res.Balanced = append(res.Balanced, neg.ID)

		issues, err := s.issues.IssuesContainingSignal(ctx, neg.ID)
		if err != nil {
			return res, fmt.Errorf("list issues for signal %s: %w", neg.ID, err)
		}
		for _, iss := range issues {
			if iss.State != types.IssueClosed {
				touched[iss.ID] = true
			}
		}
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		iss, transitioned, err := s.recalculate(ctx, id)
		if err != nil {
			return res, err
		}
		res.Issues = append(res.Issues, iss.ID)
		if transitioned {
			res.Transitions++
		}
	}
	return res, nil
}

// candidates returns the active negatives of the types pos can balance that
// sit on the same entity or under the same client, oldest first so
// long-standing negatives are balanced before newer ones.
func (s *Service) candidates(ctx context.Context, pos types.Signal) ([]types.Signal, error) {
	negTypes := s.rules.NegativesBalancedBy(pos.SignalType)
	if len(negTypes) == 0 {
		return nil, nil
	}
	sigs, err := s.signals.ListSignals(ctx, store.ActiveSignals(negTypes...).WithValence(types.ValenceNegative))
	if err != nil {
		return nil, fmt.Errorf("list balance candidates: %w", err)
	}
	out := sigs[:0]
	for _, neg := range sigs {
		if sameEntity(neg, pos) || sameScope(neg.Scope.ClientID, pos.Scope.ClientID) {
			out = append(out, neg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

// canBalanceSignal reports whether pos may balance neg: the rule must list
// pos's type, the scopes must match, and sustained rules need enough recent
// positive evidence.
func (s *Service) canBalanceSignal(ctx context.Context, neg, pos types.Signal) (bool, error) {
	rule, ok := s.rules.Rule(neg.SignalType)
	if !ok || !rule.Balances(pos.SignalType) {
		return false, nil
	}
	if !scopeMatches(rule.Scope, neg, pos) {
		return false, nil
	}
	if !rule.Sustained {
		return true, nil
	}
	return s.sustained(ctx, rule, pos)
}

// sustained counts pos plus the other positives of the rule's balancing
// types seen under the same client within the lookback window.
func (s *Service) sustained(ctx context.Context, rule Rule, pos types.Signal) (bool, error) {
	client := scopeID(pos.Scope.ClientID)
	if client == "" {
		return false, nil
	}
	since := s.now().AddDate(0, 0, -s.rules.Sustained.LookbackDays)
	n, err := s.signals.CountSignals(ctx, store.SignalQuery{
		SignalTypes:   rule.BalancedBy,
		Statuses:      []types.SignalStatus{types.StatusActive, types.StatusConsumed},
		ClientID:      client,
		DetectedSince: &since,
		ExcludeID:     pos.ID,
	}.WithValence(types.ValencePositive))
	if err != nil {
		return false, fmt.Errorf("count sustained evidence: %w", err)
	}
	return n+1 >= s.rules.Sustained.Threshold, nil
}

// scopeMatches applies the rule's scope. A missing or empty scope id never
// matches.
func scopeMatches(rule ScopeRule, neg, pos types.Signal) bool {
	entity := sameEntity(neg, pos)
	switch rule {
	case ExactEntity:
		return entity
	case SameProject:
		return entity || sameScope(neg.Scope.ProjectID, pos.Scope.ProjectID)
	case SameBrand:
		return entity || sameScope(neg.Scope.BrandID, pos.Scope.BrandID)
	case SameClient:
		return entity || sameScope(neg.Scope.ClientID, pos.Scope.ClientID)
	}
	return false
}

func sameEntity(a, b types.Signal) bool {
	return a.EntityID != "" && a.EntityType == b.EntityType && a.EntityID == b.EntityID
}

func sameScope(a, b *string) bool {
	x, y := scopeID(a), scopeID(b)
	return x != "" && x == y
}

func scopeID(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Service) markBalanced(ctx context.Context, neg, pos types.Signal) (bool, error) {
	unlock := s.locks.Lock("signal:" + neg.ID)
	defer unlock()

	now := s.now()
	ok, err := s.signals.MarkBalanced(ctx, neg.ID, pos.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark signal %s balanced: %w", neg.ID, err)
	}
	if !ok {
		return false, nil
	}
	s.logger.Info("signal balanced",
		zap.String("signal_id", neg.ID),
		zap.String("signal_type", neg.SignalType),
		zap.String("balanced_by", pos.ID),
		zap.String("positive_type", pos.SignalType))
	s.publisher.Publish(ctx, event.NewSignalBalanced(neg, pos, now))
	return true, nil
}

// RecalculateIssue recomputes the decayed balance of an issue from its
// active signals and moves an addressing issue to monitoring once the net
// score is no longer negative.
func (s *Service) RecalculateIssue(ctx context.Context, issueID string) (types.Issue, error) {
	iss, _, err := s.recalculate(ctx, issueID)
	return iss, err
}

func (s *Service) recalculate(ctx context.Context, issueID string) (types.Issue, bool, error) {
	unlock := s.locks.Lock("issue:" + issueID)
	defer unlock()

	iss, err := s.issues.GetIssue(ctx, issueID)
	if err != nil {
		return types.Issue{}, false, fmt.Errorf("get issue %s: %w", issueID, err)
	}

	now := s.now()
	var b types.IssueBalance
	for _, id := range iss.SignalIDs {
		sig, err := s.signals.GetSignal(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return iss, false, fmt.Errorf("get signal %s: %w", id, err)
		}
		if sig.Status != types.StatusActive {
			continue
		}
		weighted := sig.Magnitude * temporal.DecayMultiplierAt(sig.DetectedAt, now)
		switch sig.Valence {
		case types.ValenceNegative:
			b.NegativeMagnitude += weighted
			b.NegativeCount++
		case types.ValencePositive:
			b.PositiveMagnitude += weighted
			b.PositiveCount++
		}
	}
	b.NetScore = b.PositiveMagnitude - b.NegativeMagnitude
	b.CalculatedAt = &now
	iss.Balance = b

	transitioned := false
	if b.NetScore >= 0 && iss.State == types.IssueAddressing {
		until := now.Add(MonitoringPeriod)
		iss.State = types.IssueMonitoring
		iss.ResolvedAt = &now
		iss.ResolutionMethod = ResolutionSignalsBalanced
		iss.MonitoringUntil = &until
		transitioned = true
	}

	if err := s.issues.UpdateIssue(ctx, iss); err != nil {
		return iss, false, fmt.Errorf("update issue %s: %w", issueID, err)
	}
	if transitioned {
		s.logger.Info("issue moved to monitoring",
			zap.String("issue_id", iss.ID),
			zap.Float64("net_score", b.NetScore),
			zap.Time("monitoring_until", *iss.MonitoringUntil))
		s.publisher.Publish(ctx, event.NewIssueTransitioned(event.IssueTransitionedPayload{
			IssueID:          iss.ID,
			From:             types.IssueAddressing,
			To:               types.IssueMonitoring,
			NetScore:         b.NetScore,
			ResolutionMethod: ResolutionSignalsBalanced,
		}, now))
	}
	return iss, transitioned, nil
}

// RunBalanceCheck runs ProcessNewSignal over the newest active positive
// signals, up to CheckLimit.
func (s *Service) RunBalanceCheck(ctx context.Context) (CheckStats, error) {
	var stats CheckStats
	q := store.SignalQuery{
		Statuses: []types.SignalStatus{types.StatusActive},
		Limit:    CheckLimit,
	}.WithValence(types.ValencePositive)
	positives, err := s.signals.ListSignals(ctx, q)
	if err != nil {
		return stats, fmt.Errorf("list positive signals: %w", err)
	}
	for _, pos := range positives {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := s.ProcessNewSignal(ctx, pos)
		if err != nil {
			return stats, err
		}
		stats.PositivesChecked++
		stats.SignalsBalanced += len(res.Balanced)
		stats.IssuesRecalculated += len(res.Issues)
		stats.IssuesTransitioned += res.Transitions
	}
	s.logger.Info("balance check complete",
		zap.Int("positives", stats.PositivesChecked),
		zap.Int("balanced", stats.SignalsBalanced),
		zap.Int("transitioned", stats.IssuesTransitioned))
	return stats, nil
}

// OpenIssue creates a surfaced issue over signalIDs and computes its balance.
func (s *Service) OpenIssue(ctx context.Context, title string, signalIDs []string) (types.Issue, error) {
	if title == "" {
		return types.Issue{}, errors.New("open issue: title is required")
	}
	iss := types.Issue{
		ID:        uuid.New().String(),
		Title:     title,
		SignalIDs: signalIDs,
		State:     types.IssueSurfaced,
		CreatedAt: s.now(),
	}
	if err := s.issues.CreateIssue(ctx, iss); err != nil {
		return types.Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return s.RecalculateIssue(ctx, iss.ID)
}

var issueStates = map[types.IssueState]bool{
	types.IssueSurfaced:     true,
	types.IssueAcknowledged: true,
	types.IssueAddressing:   true,
	types.IssueMonitoring:   true,
	types.IssueClosed:       true,
}

// SetIssueState moves an issue to state. Closed issues stay closed.
func (s *Service) SetIssueState(ctx context.Context, issueID string, state types.IssueState) (types.Issue, error) {
	if !issueStates[state] {
		return types.Issue{}, fmt.Errorf("set issue state: unknown state %q", state)
	}
	unlock := s.locks.Lock("issue:" + issueID)
	defer unlock()

	iss, err := s.issues.GetIssue(ctx, issueID)
	if err != nil {
		return types.Issue{}, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	if iss.State == types.IssueClosed && state != types.IssueClosed {
		return iss, fmt.Errorf("set issue state: issue %s is closed", issueID)
	}
	from := iss.State
	iss.State = state
	if err := s.issues.UpdateIssue(ctx, iss); err != nil {
		return iss, fmt.Errorf("update issue %s: %w", issueID, err)
	}
	if from != state {
		s.publisher.Publish(ctx, event.NewIssueTransitioned(event.IssueTransitionedPayload{
			IssueID:  iss.ID,
			From:     from,
			To:       state,
			NetScore: iss.Balance.NetScore,
		}, s.now()))
	}
	return iss, nil
}
