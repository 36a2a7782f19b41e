package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

const relayColumns = `team_name, current_member_id, current_member_index, relay_start_time,
	relay_end_time, turn_number, COALESCE(previous_member_id, ''), shared_code, shared_language, history`

func scanRelay(row interface{ Scan(...any) error }) (coderelay.RelayState, error) {
	var (
		st          coderelay.RelayState
		start, end  int64
		historyJSON string
	)
	err := row.Scan(&st.TeamName, &st.CurrentMemberID, &st.CurrentMemberIndex, &start, &end,
		&st.TurnNumber, &st.PreviousMemberID, &st.SharedCode, &st.SharedLanguage, &historyJSON)
	if err != nil {
		return st, err
	}
	st.StartTime = fromMillis(start)
	st.EndTime = fromMillis(end)
	if err := json.Unmarshal([]byte(historyJSON), &st.History); err != nil {
		return st, fmt.Errorf("decoding relay history: %w", err)
	}
	if st.History == nil {
		st.History = []string{}
	}
	return st, nil
}

func (s *Store) RelayState(ctx context.Context, teamName string) (coderelay.RelayState, error) {
	st, err := scanRelay(s.db.QueryRowContext(ctx,
		`SELECT `+relayColumns+` FROM relay_state WHERE team_name = ?`, teamName,
	))
	if isNoRows(err) {
		return st, coderelay.ErrNotFound
	}
	return st, err
}

// InitRelays drops every live relay row and inserts the given first turns
// in their place, archiving each one. Teams not in states end up without a
// relay.
func (s *Store) InitRelays(ctx context.Context, states []coderelay.RelayState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relay_state`); err != nil {
			return fmt.Errorf("clearing relay state: %w", err)
		}
		for _, st := range states {
			history, err := json.Marshal(st.History)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO relay_state (team_name, current_member_id, current_member_index,
					relay_start_time, relay_end_time, turn_number, previous_member_id,
					shared_code, shared_language, history)
				VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
			`, st.TeamName, st.CurrentMemberID, st.CurrentMemberIndex,
				toMillis(st.StartTime), toMillis(st.EndTime), st.TurnNumber,
				st.SharedCode, st.SharedLanguage, string(history),
			); err != nil {
				return fmt.Errorf("initializing relay for %q: %w", st.TeamName, err)
			}
			if err := archiveTurn(ctx, tx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdvanceRelay moves a team from turn `from` to `next` only if the stored
// row is still at from.TurnNumber and its deadline has passed at
// next.StartTime. It reports whether this caller performed the transition;
// false means another request already did and the caller should re-read.
func (s *Store) AdvanceRelay(ctx context.Context, from, next coderelay.RelayState) (bool, error) {
	history, err := json.Marshal(next.History)
	if err != nil {
		return false, err
	}

	won := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE relay_state
			SET current_member_id = ?, current_member_index = ?, relay_start_time = ?,
			    relay_end_time = ?, turn_number = ?, previous_member_id = ?, history = ?
			WHERE team_name = ? AND turn_number = ? AND relay_end_time <= ?
		`, next.CurrentMemberID, next.CurrentMemberIndex, toMillis(next.StartTime),
			toMillis(next.EndTime), next.TurnNumber, next.PreviousMemberID, string(history),
			from.TeamName, from.TurnNumber, toMillis(next.StartTime),
		)
		if err != nil {
			return fmt.Errorf("advancing relay: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		won = true
		return archiveTurn(ctx, tx, next)
	})
	return won, err
}

// reassignRelay keeps a team's live relay consistent with a new member list.
// The relay is dropped when fewer than two members remain. When the current
// editor is no longer a member the turn passes to the first member with a
// fresh deadline; the shared code is kept.
func (s *Store) reassignRelay(ctx context.Context, tx *sql.Tx, teamName string, members []coderelay.Member) error {
	st, err := scanRelay(tx.QueryRowContext(ctx,
		`SELECT `+relayColumns+` FROM relay_state WHERE team_name = ?`, teamName,
	))
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading relay: %w", err)
	}

	if len(members) < 2 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relay_state WHERE team_name = ?`, teamName); err != nil {
			return fmt.Errorf("dropping relay: %w", err)
		}
		return nil
	}
	for _, m := range members {
		if strings.EqualFold(strings.TrimSpace(m.ID), st.CurrentMemberID) {
			return nil
		}
	}

	var minutes int
	if err := tx.QueryRowContext(ctx,
		`SELECT relay_duration_minutes FROM competition WHERE id = 1`,
	).Scan(&minutes); err != nil {
		return fmt.Errorf("reading relay duration: %w", err)
	}
	now := s.now()
	next := st
	next.CurrentMemberID = strings.TrimSpace(members[0].ID)
	next.CurrentMemberIndex = 0
	next.PreviousMemberID = st.CurrentMemberID
	next.StartTime = now
	next.EndTime = now.Add(time.Duration(minutes) * time.Minute)
	next.TurnNumber = st.TurnNumber + 1
	next.History = append(append(make([]string, 0, len(st.History)+1), st.History...), next.CurrentMemberID)

	history, err := json.Marshal(next.History)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_state
		SET current_member_id = ?, current_member_index = ?, relay_start_time = ?,
		    relay_end_time = ?, turn_number = ?, previous_member_id = ?, history = ?
		WHERE team_name = ?
	`, next.CurrentMemberID, next.CurrentMemberIndex, toMillis(next.StartTime),
		toMillis(next.EndTime), next.TurnNumber, next.PreviousMemberID, string(history),
		teamName,
	); err != nil {
		return fmt.Errorf("reassigning relay: %w", err)
	}
	return archiveTurn(ctx, tx, next)
}

func archiveTurn(ctx context.Context, tx *sql.Tx, st coderelay.RelayState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relay_turns (team_name, turn_number, member_id, started_at, ends_at)
		VALUES (?, ?, ?, ?, ?)
	`, st.TeamName, st.TurnNumber, st.CurrentMemberID, toMillis(st.StartTime), toMillis(st.EndTime))
	if err != nil {
		return fmt.Errorf("archiving turn: %w", err)
	}
	return nil
}

// UpdateSharedCode stores code only while memberID holds an unexpired turn.
// It reports whether the write was accepted.
func (s *Store) UpdateSharedCode(ctx context.Context, teamName, memberID, code, language string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_state SET shared_code = ?, shared_language = ?
		WHERE team_name = ? AND current_member_id = ? COLLATE NOCASE AND relay_end_time > ?
	`, code, language, teamName, memberID, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("updating shared code: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RelayTurns returns the archived turns of a team, oldest first.
func (s *Store) RelayTurns(ctx context.Context, teamName string) ([]coderelay.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_name, turn_number, member_id, started_at, ends_at
		FROM relay_turns WHERE team_name = ? ORDER BY id
	`, teamName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []coderelay.Turn{}
	for rows.Next() {
		var (
			t          coderelay.Turn
			start, end int64
		)
		if err := rows.Scan(&t.TeamName, &t.TurnNumber, &t.MemberID, &start, &end); err != nil {
			return nil, err
		}
		t.StartedAt = fromMillis(start)
		t.EndsAt = fromMillis(end)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
