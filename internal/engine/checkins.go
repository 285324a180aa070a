package engine

import (
	"context"
	"fmt"

	"groupsync/internal/domain"
	"groupsync/internal/ledger"
	"groupsync/internal/risk"
)

type SubmitOptions struct {
	// Recompute forces a new snapshot revision for a week already analyzed.
	Recompute bool
}

type SubmitResult struct {
	Results []ledger.ItemResult
	// Snapshot is nil while the project is still PLANNED, i.e. when no
	// check-in has ever been accepted.
	Snapshot *domain.RiskSnapshot
	Reused   bool
	Phase    domain.Phase
}

// SubmitCheckIns records a batch for week and analyzes the week. Items are
// accepted or rejected individually; the first accepted check-in moves the
// project from PLANNED to ACTIVE.
func (e Engine) SubmitCheckIns(ctx context.Context, week int, items []ledger.Input, opts SubmitOptions) (SubmitResult, error) {
	components := []string{ComponentLedger, ComponentRisk, ComponentStore}
	lg := e.Ledger
	lg.Now = e.now
	analyzer := e.Risk
	analyzer.Now = e.now

	var out SubmitResult
	s, err := e.run(ctx, ActionSubmitCheckIns, components, func(s *domain.State) (string, error) {
		out = SubmitResult{}
		if err := requirePhase(s, ActionSubmitCheckIns, domain.PhasePlanned, domain.PhaseActive); err != nil {
			return "", err
		}
		if week < 0 || week >= len(s.Plan) {
			return "", domain.Invalidf("week %d is outside the plan (0..%d)", week, len(s.Plan)-1)
		}
		out.Results = lg.RecordBatch(s, week, items)
		accepted := ledger.Accepted(out.Results)
		if accepted > 0 && s.Phase == domain.PhasePlanned {
			s.Phase = domain.PhaseActive
		}
		detail := fmt.Sprintf("week %d: accepted %d of %d check-ins", week, accepted, len(items))
		if s.Phase != domain.PhaseActive {
			return detail, nil
		}
		analyzed, err := analyzer.Analyze(s, week, opts.Recompute)
		if err != nil {
			return "", err
		}
		out.Snapshot = &analyzed.Snapshot
		out.Reused = analyzed.Reused
		if analyzed.Reused {
			return detail + fmt.Sprintf(", kept snapshot revision %d (%s)", analyzed.Snapshot.Revision, analyzed.Snapshot.Flag), nil
		}
		return detail + fmt.Sprintf(", snapshot revision %d: %s", analyzed.Snapshot.Revision, analyzed.Snapshot.Flag), nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	out.Phase = s.Phase
	if out.Snapshot != nil {
		snap, _ := risk.Latest(s, week)
		out.Snapshot = &snap
	}
	return out, nil
}

// Summary returns the latest snapshot for week.
func (e Engine) Summary(week int) (domain.RiskSnapshot, error) {
	snap, ok := risk.Latest(e.Store.Load(), week)
	if !ok {
		return domain.RiskSnapshot{}, fmt.Errorf("no snapshot for week %d: %w", week, domain.ErrNotFound)
	}
	return snap, nil
}
