// Package engine is the orchestrator: it sequences the extractor, matcher,
// planner, ledger and risk analyzer over the state store and enforces the
// project phase machine.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"groupsync/internal/config"
	"groupsync/internal/domain"
	"groupsync/internal/engine/auth"
	"groupsync/internal/extract"
	"groupsync/internal/ledger"
	"groupsync/internal/risk"
	"groupsync/internal/store"
)

// Run log action names.
const (
	ActionInit           = "init"
	ActionSetTeam        = "set_team"
	ActionSubmitCheckIns = "submit_checkins"
	ActionReassignTask   = "reassign_task"
	ActionReset          = "reset"
)

// Component names recorded in run logs.
const (
	ComponentStore     = "state_store"
	ComponentExtractor = "task_extractor"
	ComponentMatcher   = "role_matcher"
	ComponentPlanner   = "plan_builder"
	ComponentLedger    = "checkin_ledger"
	ComponentRisk      = "risk_analyzer"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Journal receives every run log entry after it is committed.
type Journal interface {
	Append(ctx context.Context, entry domain.RunLog) (int64, error)
}

type Engine struct {
	Store     *store.Store
	Extractor extract.Extractor
	Documents extract.TextExtractor
	Ledger    ledger.Ledger
	Risk      risk.Analyzer
	Config    *config.Config
	Journal   Journal
	Log       logrus.FieldLogger
	Now       func() time.Time
}

func New(cfg *config.Config, logger logrus.FieldLogger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return Engine{
		Store:     store.New(cfg.Store.MaxRetries),
		Extractor: extract.New(nil, cfg.Extractor.DefaultHours),
		Documents: extract.PlainText{},
		Ledger:    ledger.New(),
		Risk:      risk.New(risk.Thresholds{OnTrackMax: cfg.Risk.OnTrackMax, AtRiskMax: cfg.Risk.AtRiskMax}),
		Config:    cfg,
		Log:       logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// State returns the latest committed state.
func (e Engine) State() domain.State {
	return e.Store.Load()
}

// RunLogs returns the newest limit entries, oldest first. limit <= 0 returns all.
func (e Engine) RunLogs(limit int) []domain.RunLog {
	logs := e.Store.Load().RunLogs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs
}

// Reset discards the project. The reset itself is journaled but not kept in
// the fresh state, so resetting twice yields the same empty state.
func (e Engine) Reset(ctx context.Context) domain.State {
	s := e.Store.Reset()
	entry := e.newRunLog(ctx, ActionReset, []string{ComponentStore}, OutcomeOK, "")
	e.logger().WithFields(logrus.Fields{"action": ActionReset, "version": s.Version, "actor": entry.Actor}).Info("project reset")
	e.journal(ctx, entry)
	return s
}

// run applies fn through the store and records the outcome. fn returns a
// short detail for the run log.
func (e Engine) run(ctx context.Context, action string, components []string, fn func(*domain.State) (string, error)) (domain.State, error) {
	var entry domain.RunLog
	s, err := e.Store.Mutate(func(s *domain.State) error {
		detail, err := fn(s)
		if err != nil {
			return err
		}
		entry = e.newRunLog(ctx, action, components, OutcomeOK, detail)
		s.RunLogs = append(s.RunLogs, entry)
		return nil
	})
	if err != nil {
		return s, e.fail(ctx, action, components, err)
	}
	e.logger().WithFields(logrus.Fields{
		"action":  action,
		"phase":   s.Phase,
		"version": s.Version,
		"actor":   entry.Actor,
	}).Info(entry.Detail)
	e.journal(ctx, entry)
	return s, nil
}

// fail records a failed action and returns err unchanged.
func (e Engine) fail(ctx context.Context, action string, components []string, err error) error {
	entry := e.newRunLog(ctx, action, components, OutcomeError, err.Error())
	if _, lerr := e.Store.Mutate(func(s *domain.State) error {
		s.RunLogs = append(s.RunLogs, entry)
		return nil
	}); lerr != nil {
		e.logger().WithError(lerr).WithField("action", action).Warn("run log not stored")
	}
	e.logger().WithError(err).WithFields(logrus.Fields{"action": action, "actor": entry.Actor}).Warn("action failed")
	e.journal(ctx, entry)
	return err
}

func (e Engine) newRunLog(ctx context.Context, action string, components []string, outcome, detail string) domain.RunLog {
	return domain.RunLog{
		ID:         uuid.NewString(),
		Timestamp:  e.now(),
		Action:     action,
		Components: append([]string{}, components...),
		Outcome:    outcome,
		Actor:      auth.ActorID(ctx),
		Detail:     detail,
	}
}

func (e Engine) journal(ctx context.Context, entry domain.RunLog) {
	if e.Journal == nil {
		return
	}
	if _, err := e.Journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		e.logger().WithError(err).WithField("run_id", entry.ID).Warn("journal append failed")
	}
}

func requirePhase(s *domain.State, action string, allowed ...domain.Phase) error {
	for _, p := range allowed {
		if s.Phase == p {
			return nil
		}
	}
	return domain.TransitionError{Action: action, From: s.Phase}
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}
