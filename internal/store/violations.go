package store

import (
	"context"
	"fmt"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

// AddViolation appends a violation and returns the team's new total.
func (s *Store) AddViolation(ctx context.Context, v coderelay.Violation) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (team_name, violation_type, details, created_at)
		VALUES (?, ?, ?, ?)
	`, v.TeamName, v.Type, v.Details, toMillis(v.CreatedAt)); err != nil {
		return 0, fmt.Errorf("inserting violation: %w", err)
	}
	return s.CountViolations(ctx, v.TeamName)
}

func (s *Store) CountViolations(ctx context.Context, teamName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM violations WHERE team_name = ?`, teamName,
	).Scan(&n)
	return n, err
}

// ViolationCounts returns the violation total per team.
func (s *Store) ViolationCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_name, COUNT(*) FROM violations GROUP BY team_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			team string
			n    int
		)
		if err := rows.Scan(&team, &n); err != nil {
			return nil, err
		}
		counts[team] = n
	}
	return counts, rows.Err()
}

// ListViolations returns newest first. An empty teamName lists all teams;
// limit <= 0 means no limit.
func (s *Store) ListViolations(ctx context.Context, teamName string, limit int) ([]coderelay.Violation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_name, violation_type, details, created_at
		FROM violations
		WHERE (? = '' OR team_name = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, teamName, teamName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []coderelay.Violation{}
	for rows.Next() {
		var (
			v  coderelay.Violation
			at int64
		)
		if err := rows.Scan(&v.ID, &v.TeamName, &v.Type, &v.Details, &at); err != nil {
			return nil, err
		}
		v.CreatedAt = fromMillis(at)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ClearViolations deletes the violations of one team, or all of them when
// teamName is empty.
func (s *Store) ClearViolations(ctx context.Context, teamName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM violations WHERE (? = '' OR team_name = ?)`, teamName, teamName,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
