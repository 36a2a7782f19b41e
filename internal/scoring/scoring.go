// Package scoring records submissions, pins each team to one problem and
// keeps team scores idempotent per solved problem.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/store"
)

// ErrGrading marks a final submission that could not be graded. Nothing is
// recorded for it; a problem lock taken before grading stays.
var ErrGrading = errors.New("grading failed")

// Grader decides whether code solves a problem.
type Grader interface {
	Grade(ctx context.Context, problemID int, code, language string) (judge.Report, error)
}

type Service struct {
	store   *store.Store
	grader  Grader
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func New(s *store.Store, g Grader, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Service {
	if m == nil {
		m = metrics.New(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   s,
		grader:  g,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("github.com/binarybattles/coderelay/internal/scoring"),
		now:     now,
	}
}

type Submission struct {
	TeamName  string
	ProblemID int
	Code      string
	Language  string
	Autosave  bool
	// LockIfFirst pins the team to ProblemID when no problem is pinned yet.
	LockIfFirst bool
}

// Outcome is the result of Submit. Report is nil for autosaves.
type Outcome struct {
	Autosave bool
	Report   *judge.Report
	// FirstSolve is set when this submission added to the score.
	FirstSolve bool
}

const autosaveMessage = "Auto-saved draft"

// Submit stores an autosave as-is, or grades a final submission. Final
// submissions are rejected with a Conflict when the team is pinned to a
// different problem. The pin is applied before grading.
func (s *Service) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.Service.Submit", trace.WithAttributes(
		attribute.String("team", sub.TeamName),
		attribute.Int("problem", sub.ProblemID),
		attribute.Bool("autosave", sub.Autosave),
	))
	defer span.End()

	if sub.Autosave {
		_, err := s.store.AddSubmission(ctx, coderelay.Submission{
			TeamName:    sub.TeamName,
			ProblemID:   sub.ProblemID,
			Code:        sub.Code,
			Language:    sub.Language,
			Kind:        coderelay.KindAutosave,
			Message:     autosaveMessage,
			SubmittedAt: s.now(),
		})
		if err != nil {
			return Outcome{}, err
		}
		s.metrics.Submissions.WithLabelValues(string(coderelay.KindAutosave), "saved").Inc()
		return Outcome{Autosave: true}, nil
	}

	team, err := s.store.GetTeam(ctx, sub.TeamName)
	if errors.Is(err, coderelay.ErrNotFound) {
		return Outcome{}, coderelay.NotFound("Team not found")
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := checkLock(team.SelectedProblem, sub.ProblemID); err != nil {
		s.metrics.Submissions.WithLabelValues(string(coderelay.KindFinal), "locked").Inc()
		return Outcome{}, err
	}
	if team.SelectedProblem == nil && sub.LockIfFirst {
		pinned, err := s.store.LockProblem(ctx, sub.TeamName, sub.ProblemID)
		if err != nil {
			return Outcome{}, err
		}
		// A concurrent submission may have pinned a different problem.
		if err := checkLock(&pinned, sub.ProblemID); err != nil {
			s.metrics.Submissions.WithLabelValues(string(coderelay.KindFinal), "locked").Inc()
			return Outcome{}, err
		}
		s.logger.Info("problem locked", "team", sub.TeamName, "problem", pinned)
	}

	report, err := s.grader.Grade(ctx, sub.ProblemID, sub.Code, sub.Language)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("grading failed", "team", sub.TeamName, "problem", sub.ProblemID, "error", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrGrading, err)
	}

	now := s.now()
	if _, err := s.store.AddSubmission(ctx, coderelay.Submission{
		TeamName:    sub.TeamName,
		ProblemID:   sub.ProblemID,
		Code:        sub.Code,
		Language:    sub.Language,
		Kind:        coderelay.KindFinal,
		Passed:      report.Passed,
		Message:     report.Message,
		SubmittedAt: now,
	}); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Report: &report}
	if report.Passed {
		out.FirstSolve, err = s.store.RecordSolve(ctx, sub.TeamName, sub.ProblemID, report.Score, now)
		if err != nil {
			return Outcome{}, err
		}
		if out.FirstSolve {
			s.logger.Info("problem solved", "team", sub.TeamName, "problem", sub.ProblemID, "score", report.Score)
		}
		s.metrics.Submissions.WithLabelValues(string(coderelay.KindFinal), "passed").Inc()
	} else {
		if err := s.store.RecordFailure(ctx, sub.TeamName, sub.ProblemID, now); err != nil {
			return Outcome{}, err
		}
		s.metrics.Submissions.WithLabelValues(string(coderelay.KindFinal), "failed").Inc()
	}
	return out, nil
}

func checkLock(selected *int, problemID int) error {
	if selected != nil && *selected != problemID {
		return coderelay.Conflict("You can only attempt Problem %d. You cannot change your selected problem.", *selected)
	}
	return nil
}

// FinalSubmissions returns the latest graded submission per team and
// problem.
func (s *Service) FinalSubmissions(ctx context.Context) ([]coderelay.Submission, error) {
	return s.store.FinalSubmissions(ctx)
}
