// Package ledger records anti-cheat violations and switches team bans.
// Bans are only ever set by an admin; violation counts never trigger one.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/store"
)

type Ledger struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(s *store.Store, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Ledger {
	if m == nil {
		m = metrics.New(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: s, logger: logger, metrics: m, now: now}
}

// RecordViolation appends a violation and returns the team's total.
func (l *Ledger) RecordViolation(ctx context.Context, teamName, violationType, details string) (int, error) {
	violationType = strings.TrimSpace(violationType)
	if violationType == "" {
		return 0, coderelay.Validation("violationType is required")
	}
	n, err := l.store.AddViolation(ctx, coderelay.Violation{
		TeamName:  teamName,
		Type:      violationType,
		Details:   details,
		CreatedAt: l.now(),
	})
	if err != nil {
		return 0, err
	}
	l.metrics.Violations.WithLabelValues(violationType).Inc()
	l.logger.Info("violation recorded", "team", teamName, "type", violationType, "count", n)
	return n, nil
}

func (l *Ledger) Violations(ctx context.Context, teamName string, limit int) ([]coderelay.Violation, error) {
	return l.store.ListViolations(ctx, teamName, limit)
}

func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	return l.store.ViolationCounts(ctx)
}

// Clear deletes the violations of one team, or of all teams when teamName
// is empty.
func (l *Ledger) Clear(ctx context.Context, teamName string) (int64, error) {
	n, err := l.store.ClearViolations(ctx, teamName)
	if err != nil {
		return 0, err
	}
	l.logger.Info("violations cleared", "team", teamName, "deleted", n)
	return n, nil
}

// Ban blocks a team from logging in. Sessions already issued stay valid
// until the team's next ban-checked request.
func (l *Ledger) Ban(ctx context.Context, teamName string) error {
	return l.set(ctx, teamName, true)
}

func (l *Ledger) Unban(ctx context.Context, teamName string) error {
	return l.set(ctx, teamName, false)
}

func (l *Ledger) set(ctx context.Context, teamName string, banned bool) error {
	if err := l.store.SetBanned(ctx, teamName, banned); err != nil {
		return err
	}
	action := "unban"
	if banned {
		action = "ban"
	}
	l.metrics.Bans.WithLabelValues(action).Inc()
	l.logger.Info("ban flag changed", "team", teamName, "banned", banned)
	return nil
}

func (l *Ledger) IsBanned(ctx context.Context, teamName string) (bool, error) {
	return l.store.IsBanned(ctx, teamName)
}
