// Package relay arbitrates which team member holds write access to the
// team's shared code. Turns advance lazily: the first request that observes
// an expired deadline performs the hand-off.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/store"
)

const DefaultLanguage = "python"

const notEditorMessage = "You are not the active editor. Wait for your turn."

// maxAttempts bounds how often Read retries after losing a transition race.
const maxAttempts = 3

type Engine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	pick    func(n int) int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithPicker replaces the uniform random choice among candidates. pick
// must return a value in [0, n).
func WithPicker(pick func(n int) int) Option { return func(e *Engine) { e.pick = pick } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func New(s *store.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		logger: logger,
		tracer: otel.Tracer("github.com/binarybattles/coderelay/internal/relay"),
		now:    time.Now,
		pick:   rand.IntN,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	return e
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time { return e.now() }

// Read returns the team's relay state, advancing the turn first if its
// deadline has passed. It returns coderelay.ErrNotFound when the team has
// no relay.
func (e *Engine) Read(ctx context.Context, teamName string) (coderelay.RelayState, error) {
	st, err := e.store.RelayState(ctx, teamName)
	if err != nil {
		return st, err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := e.now()
		if !st.Expired(now) {
			return st, nil
		}
		next, won, err := e.advance(ctx, st, now)
		if err != nil {
			return st, err
		}
		if won {
			return next, nil
		}
		// Another request advanced the turn; use its result.
		e.metrics.RelayLostRaces.Inc()
		e.logger.Debug("relay transition lost", "team", teamName, "turn", st.TurnNumber)
		if st, err = e.store.RelayState(ctx, teamName); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (e *Engine) advance(ctx context.Context, st coderelay.RelayState, now time.Time) (coderelay.RelayState, bool, error) {
	ctx, span := e.tracer.Start(ctx, "relay.Engine.advance", trace.WithAttributes(
		attribute.String("team", st.TeamName),
		attribute.Int("turn", st.TurnNumber),
	))
	defer span.End()

	w, err := e.store.Competition(ctx)
	if err != nil {
		return st, false, err
	}
	members, err := e.store.Members(ctx, st.TeamName)
	if err != nil {
		return st, false, err
	}
	next, ok := NextTurn(st, members, now, w.RelayDuration(), e.pick)
	if !ok {
		// Nobody to hand off to; keep the expired turn.
		return st, true, nil
	}

	won, err := e.store.AdvanceRelay(ctx, st, next)
	if err != nil {
		span.RecordError(err)
		return st, false, fmt.Errorf("advancing relay for %q: %w", st.TeamName, err)
	}
	span.SetAttributes(attribute.Bool("won", won))
	if won {
		e.metrics.RelayTransitions.Inc()
		e.logger.Info("relay turn advanced",
			"team", st.TeamName,
			"turn", next.TurnNumber,
			"from", st.CurrentMemberID,
			"to", next.CurrentMemberID,
		)
	}
	return next, won, nil
}

// NextTurn computes the state that follows st at now. The next editor is
// chosen with pick among all members except the current one, or among all
// members when the team has only one. ok is false when the team has no
// members to hand off to.
func NextTurn(st coderelay.RelayState, members []coderelay.Member, now time.Time, d time.Duration, pick func(int) int) (next coderelay.RelayState, ok bool) {
	candidates := make([]coderelay.Member, 0, len(members))
	for _, m := range members {
		if !strings.EqualFold(m.ID, st.CurrentMemberID) {
			candidates = append(candidates, m)
		}
	}
	if len(members) == 1 {
		candidates = members
	}
	if len(candidates) == 0 {
		return st, false
	}
	chosen := candidates[pick(len(candidates))]

	next = st
	next.CurrentMemberID = chosen.ID
	next.CurrentMemberIndex = chosen.Index
	next.PreviousMemberID = st.CurrentMemberID
	next.StartTime = now
	next.EndTime = now.Add(d)
	next.TurnNumber = st.TurnNumber + 1
	next.History = append(append(make([]string, 0, len(st.History)+1), st.History...), chosen.ID)
	return next, true
}

// FirstTurn builds turn 1 for a team starting at now.
func FirstTurn(teamName string, members []coderelay.Member, now time.Time, d time.Duration, pick func(int) int) (coderelay.RelayState, bool) {
	if len(members) == 0 {
		return coderelay.RelayState{}, false
	}
	first := members[pick(len(members))]
	return coderelay.RelayState{
		TeamName:           teamName,
		CurrentMemberID:    first.ID,
		CurrentMemberIndex: first.Index,
		StartTime:          now,
		EndTime:            now.Add(d),
		TurnNumber:         1,
		SharedLanguage:     DefaultLanguage,
		History:            []string{first.ID},
	}, true
}

// InitializeAll starts a fresh relay for every eligible team: unbanned,
// non-admin, with at least two members. Existing relays are discarded, so
// ineligible teams end up without one. It returns the number of relays
// created.
func (e *Engine) InitializeAll(ctx context.Context, relayDuration time.Duration) (int, error) {
	ctx, span := e.tracer.Start(ctx, "relay.Engine.InitializeAll")
	defer span.End()

	teams, err := e.store.RelayEligibleTeams(ctx)
	if err != nil {
		return 0, err
	}
	now := e.now()
	states := make([]coderelay.RelayState, 0, len(teams))
	for _, t := range teams {
		if st, ok := FirstTurn(t.Name, t.Members, now, relayDuration, e.pick); ok {
			states = append(states, st)
		}
	}
	if err := e.store.InitRelays(ctx, states); err != nil {
		span.RecordError(err)
		return 0, err
	}
	e.metrics.ActiveRelays.Set(float64(len(states)))
	span.SetAttributes(attribute.Int("relays", len(states)))
	return len(states), nil
}

// Write stores code as the team's shared buffer. Only the current editor
// may write, and only before the turn deadline.
func (e *Engine) Write(ctx context.Context, teamName, memberID, code, language string) error {
	st, err := e.Read(ctx, teamName)
	if errors.Is(err, coderelay.ErrNotFound) {
		return coderelay.NotFound("Relay is not active for this team")
	}
	if err != nil {
		return err
	}
	if !st.IsEditor(memberID) {
		e.metrics.RelayWrites.WithLabelValues("forbidden").Inc()
		return coderelay.Forbidden(notEditorMessage)
	}
	if language == "" {
		language = st.SharedLanguage
	}
	ok, err := e.store.UpdateSharedCode(ctx, teamName, memberID, code, language, e.now())
	if err != nil {
		return err
	}
	if !ok {
		// The turn ended between the check and the write.
		e.metrics.RelayWrites.WithLabelValues("forbidden").Inc()
		return coderelay.Forbidden(notEditorMessage)
	}
	e.metrics.RelayWrites.WithLabelValues("ok").Inc()
	return nil
}

// RequireEditor returns the current relay state if memberID is the active
// editor and a Forbidden error otherwise. A team without a relay is not
// gated.
func (e *Engine) RequireEditor(ctx context.Context, teamName, memberID string) (coderelay.RelayState, error) {
	st, err := e.Read(ctx, teamName)
	if errors.Is(err, coderelay.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if !st.IsEditor(memberID) {
		return st, coderelay.Forbidden(notEditorMessage)
	}
	return st, nil
}
