package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

func (s *Store) Competition(ctx context.Context) (coderelay.CompetitionWindow, error) {
	var (
		w     coderelay.CompetitionWindow
		start sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT start_time, duration_minutes, relay_duration_minutes
		FROM competition WHERE id = 1
	`).Scan(&start, &w.DurationMinutes, &w.RelayDurationMinutes)
	if err != nil {
		return w, fmt.Errorf("reading competition: %w", err)
	}
	w.StartTime = nullMillis(start)
	return w, nil
}

// StartCompetition stamps the start time and persists both durations.
func (s *Store) StartCompetition(ctx context.Context, start time.Time, durationMinutes, relayMinutes int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE competition
		SET start_time = ?, duration_minutes = ?, relay_duration_minutes = ?
		WHERE id = 1
	`, toMillis(start), durationMinutes, relayMinutes)
	return err
}

// SetRelayDuration changes the length of turns that start from now on.
func (s *Store) SetRelayDuration(ctx context.Context, minutes int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE competition SET relay_duration_minutes = ? WHERE id = 1`, minutes,
	)
	return err
}

// StopCompetition clears the start time and drops every live relay row in
// one transaction. Archived turns in relay_turns are kept.
func (s *Store) StopCompetition(ctx context.Context) (int64, error) {
	var cleared int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE competition SET start_time = NULL WHERE id = 1`); err != nil {
			return fmt.Errorf("clearing start time: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM relay_state`)
		if err != nil {
			return fmt.Errorf("clearing relay state: %w", err)
		}
		cleared, _ = res.RowsAffected()
		return nil
	})
	return cleared, err
}
