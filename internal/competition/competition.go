// Package competition owns the global competition clock.
package competition

import (
	"context"
	"log/slog"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/store"
)

// RelayStarter creates the first relay turn for every eligible team.
type RelayStarter interface {
	InitializeAll(ctx context.Context, relayDuration time.Duration) (int, error)
}

type Clock struct {
	store  *store.Store
	relays RelayStarter
	logger *slog.Logger
	now    func() time.Time
}

func New(s *store.Store, relays RelayStarter, logger *slog.Logger, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{store: s, relays: relays, logger: logger, now: now}
}

// State is a snapshot of the competition window at a point in time.
type State struct {
	coderelay.CompetitionWindow
	Active    bool
	Remaining time.Duration
}

func (c *Clock) State(ctx context.Context) (State, error) {
	w, err := c.store.Competition(ctx)
	if err != nil {
		return State{}, err
	}
	now := c.now()
	return State{CompetitionWindow: w, Active: w.Active(now), Remaining: w.Remaining(now)}, nil
}

// IsActive reports whether the competition is running now.
func (c *Clock) IsActive(ctx context.Context) (bool, error) {
	st, err := c.State(ctx)
	return st.Active, err
}

// Start begins the competition now and initializes a relay for every
// eligible team. A restart replaces any relay already in progress. It
// returns the number of relays initialized.
func (c *Clock) Start(ctx context.Context, durationMinutes, relayMinutes int) (int, error) {
	if durationMinutes < 1 {
		return 0, coderelay.Validation("Duration must be at least 1 minute")
	}
	if relayMinutes < 1 {
		return 0, coderelay.Validation("Relay duration must be at least 1 minute")
	}
	if err := c.store.StartCompetition(ctx, c.now(), durationMinutes, relayMinutes); err != nil {
		return 0, err
	}
	n, err := c.relays.InitializeAll(ctx, time.Duration(relayMinutes)*time.Minute)
	if err != nil {
		return 0, err
	}
	c.logger.Info("competition started",
		"duration_minutes", durationMinutes,
		"relay_minutes", relayMinutes,
		"relays", n,
	)
	return n, nil
}

// Stop ends the competition and clears all live relay state. Archived
// turns are kept.
func (c *Clock) Stop(ctx context.Context) error {
	n, err := c.store.StopCompetition(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("competition stopped", "relays_cleared", n)
	return nil
}

// SetRelayDuration changes the length of turns that start from now on.
func (c *Clock) SetRelayDuration(ctx context.Context, minutes int) error {
	if minutes < 1 {
		return coderelay.Validation("Relay duration must be at least 1 minute")
	}
	return c.store.SetRelayDuration(ctx, minutes)
}
