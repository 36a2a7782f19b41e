package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

func (s *Store) AddSubmission(ctx context.Context, sub coderelay.Submission) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (team_name, problem_id, code, language, kind, passed, message, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.TeamName, sub.ProblemID, sub.Code, sub.Language, string(sub.Kind),
		boolInt(sub.Passed), sub.Message, toMillis(sub.SubmittedAt))
	if err != nil {
		return 0, fmt.Errorf("inserting submission: %w", err)
	}
	return res.LastInsertId()
}

// LockProblem pins problemID as the team's problem if none is pinned yet and
// returns whichever problem is pinned afterwards.
func (s *Store) LockProblem(ctx context.Context, teamName string, problemID int) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE teams SET selected_problem = ?
		WHERE name = ? AND selected_problem IS NULL
	`, problemID, teamName); err != nil {
		return 0, fmt.Errorf("locking problem: %w", err)
	}
	var selected sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT selected_problem FROM teams WHERE name = ?`, teamName,
	).Scan(&selected)
	if isNoRows(err) {
		return 0, coderelay.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return int(selected.Int64), nil
}

// RecordSolve marks (team, problem) solved, clears any failure record and
// adds points to the score, all at most once per pair. It reports whether
// this call was the first solve.
func (s *Store) RecordSolve(ctx context.Context, teamName string, problemID, points int, at time.Time) (bool, error) {
	first := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO solved_problems (team_name, problem_id, solved_at)
			VALUES (?, ?, ?)
		`, teamName, problemID, toMillis(at))
		if err != nil {
			return fmt.Errorf("recording solve: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		first = true
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM failed_problems WHERE team_name = ? AND problem_id = ?`, teamName, problemID,
		); err != nil {
			return fmt.Errorf("clearing failure: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE teams SET score = score + ? WHERE name = ?`, max(points, 0), teamName,
		); err != nil {
			return fmt.Errorf("adding score: %w", err)
		}
		return nil
	})
	return first, err
}

// RecordFailure marks (team, problem) failed unless it is already solved.
// An existing failure record is left untouched.
func (s *Store) RecordFailure(ctx context.Context, teamName string, problemID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO failed_problems (team_name, problem_id, failed_at)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM solved_problems WHERE team_name = ? AND problem_id = ?
		)
	`, teamName, problemID, toMillis(at), teamName, problemID)
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	return nil
}

const submissionColumns = `id, team_name, problem_id, code, language, kind, passed, message, submitted_at`

func scanSubmissions(rows *sql.Rows) ([]coderelay.Submission, error) {
	defer rows.Close()
	subs := []coderelay.Submission{}
	for rows.Next() {
		var (
			sub  coderelay.Submission
			kind string
			at   int64
		)
		if err := rows.Scan(&sub.ID, &sub.TeamName, &sub.ProblemID, &sub.Code, &sub.Language,
			&kind, &sub.Passed, &sub.Message, &at); err != nil {
			return nil, err
		}
		sub.Kind = coderelay.SubmissionKind(kind)
		sub.SubmittedAt = fromMillis(at)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// FinalSubmissions returns, per (team, problem), the latest graded
// submission. Autosaves are never reported as final.
func (s *Store) FinalSubmissions(ctx context.Context) ([]coderelay.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE id IN (
			SELECT MAX(id) FROM submissions
			WHERE kind = 'final'
			GROUP BY team_name, problem_id
		)
		ORDER BY submitted_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	return scanSubmissions(rows)
}

// ListSubmissions returns the newest submissions first. An empty teamName
// lists every team; limit <= 0 means no limit.
func (s *Store) ListSubmissions(ctx context.Context, teamName string, limit int) ([]coderelay.Submission, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE (? = '' OR team_name = ?)
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?
	`, teamName, teamName, limit)
	if err != nil {
		return nil, err
	}
	return scanSubmissions(rows)
}

// LatestSubmission returns the newest submission of any kind for the pair,
// used to restore a team's editor.
func (s *Store) LatestSubmission(ctx context.Context, teamName string, problemID int) (coderelay.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE team_name = ? AND problem_id = ?
		ORDER BY submitted_at DESC, id DESC LIMIT 1
	`, teamName, problemID)
	if err != nil {
		return coderelay.Submission{}, err
	}
	subs, err := scanSubmissions(rows)
	if err != nil {
		return coderelay.Submission{}, err
	}
	if len(subs) == 0 {
		return coderelay.Submission{}, coderelay.ErrNotFound
	}
	return subs[0], nil
}

// PurgeSubmissions deletes every submission row.
func (s *Store) PurgeSubmissions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Leaderboard ranks non-admin teams by score, then by who reached it first.
func (s *Store) Leaderboard(ctx context.Context) ([]coderelay.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, t.score,
		       (SELECT COUNT(*) FROM solved_problems sp WHERE sp.team_name = t.name),
		       (SELECT MAX(submitted_at) FROM submissions sb WHERE sb.team_name = t.name AND sb.kind = 'final')
		FROM teams t
		WHERE t.is_admin = 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []coderelay.LeaderboardEntry{}
	for rows.Next() {
		var (
			e    coderelay.LeaderboardEntry
			last sql.NullInt64
		)
		if err := rows.Scan(&e.Name, &e.Score, &e.Solved, &last); err != nil {
			return nil, err
		}
		e.LastSubmission = nullMillis(last)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		switch {
		case a.LastSubmission == nil && b.LastSubmission == nil:
			return a.Name < b.Name
		case a.LastSubmission == nil:
			return false
		case b.LastSubmission == nil:
			return true
		}
		if !a.LastSubmission.Equal(*b.LastSubmission) {
			return a.LastSubmission.Before(*b.LastSubmission)
		}
		return a.Name < b.Name
	})
	return entries, nil
}

// Stats summarizes the competition. Teams with a final submission in the
// last five minutes before now count as active.
func (s *Store) Stats(ctx context.Context, now time.Time, problemIDs []int) (coderelay.Stats, error) {
	var st coderelay.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM teams WHERE is_admin = 0),
			(SELECT COUNT(DISTINCT team_name) FROM submissions WHERE kind = 'final' AND submitted_at > ?),
			(SELECT COUNT(*) FROM submissions WHERE kind = 'final'),
			(SELECT COUNT(*) FROM submissions WHERE kind = 'final' AND passed = 1),
			(SELECT COUNT(*) FROM violations)
	`, toMillis(now.Add(-5*time.Minute))).Scan(
		&st.TotalTeams, &st.ActiveTeams, &st.TotalSubmissions, &st.PassedSubmissions, &st.TotalViolations,
	)
	if err != nil {
		return st, fmt.Errorf("reading stats: %w", err)
	}
	st.FailedSubmissions = st.TotalSubmissions - st.PassedSubmissions

	st.ProblemStats = make([]coderelay.ProblemStat, 0, len(problemIDs))
	for _, id := range problemIDs {
		ps := coderelay.ProblemStat{ProblemID: id}
		err := s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM solved_problems WHERE problem_id = ?),
				(SELECT COUNT(DISTINCT team_name) FROM submissions WHERE problem_id = ? AND kind = 'final')
		`, id, id).Scan(&ps.Solved, &ps.Attempted)
		if err != nil {
			return st, fmt.Errorf("reading problem stats: %w", err)
		}
		st.ProblemStats = append(st.ProblemStats, ps)
	}
	return st, nil
}
