package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

// NewTeam describes a team (or admin account) to create.
type NewTeam struct {
	Name          string
	PasswordHash  string
	IsAdmin       bool
	IsMasterAdmin bool
	Members       []coderelay.Member
}

// CreateTeam inserts a team and its members. It fails with a Conflict when
// the name or any member id is already taken.
func (s *Store) CreateTeam(ctx context.Context, t NewTeam) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM teams WHERE name = ?`, t.Name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking team: %w", err)
		}
		if exists > 0 {
			return coderelay.Conflict("Team %q already exists", t.Name)
		}

		size := len(t.Members)
		if size == 0 {
			size = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO teams (name, password_hash, is_admin, is_master_admin, team_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.Name, t.PasswordHash, boolInt(t.IsAdmin), boolInt(t.IsMasterAdmin), size, toMillis(s.now()))
		if err != nil {
			return fmt.Errorf("inserting team: %w", err)
		}
		return insertMembers(ctx, tx, t.Name, t.Members)
	})
}

// ReplaceMembers deletes every member of the team and inserts members in
// their place. Members are never patched individually. A live relay is
// reassigned or dropped in the same transaction.
func (s *Store) ReplaceMembers(ctx context.Context, teamName string, members []coderelay.Member) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE teams SET team_size = ? WHERE name = ? AND is_admin = 0`,
			max(len(members), 1), teamName,
		)
		if err != nil {
			return fmt.Errorf("updating team size: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return coderelay.NotFound("Team %q not found", teamName)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM team_members WHERE team_name = ?`, teamName,
		); err != nil {
			return fmt.Errorf("deleting members: %w", err)
		}
		if err := insertMembers(ctx, tx, teamName, members); err != nil {
			return err
		}
		return s.reassignRelay(ctx, tx, teamName, members)
	})
}

func insertMembers(ctx context.Context, tx *sql.Tx, teamName string, members []coderelay.Member) error {
	for i, m := range members {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return coderelay.Validation("Member %d has no id", i+1)
		}
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT team_name FROM team_members WHERE member_id = ?`, id,
		).Scan(&owner)
		if err == nil {
			return coderelay.Conflict("Member %q already belongs to team %q", id, owner)
		}
		if !isNoRows(err) {
			return fmt.Errorf("checking member: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_name, member_id, member_index, name)
			VALUES (?, ?, ?, ?)
		`, teamName, id, i, strings.TrimSpace(m.Name)); err != nil {
			return fmt.Errorf("inserting member: %w", err)
		}
	}
	return nil
}

// DeleteTeam removes a non-admin team and every row that references it.
func (s *Store) DeleteTeam(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var isAdmin bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_admin FROM teams WHERE name = ?`, name,
		).Scan(&isAdmin)
		if isNoRows(err) {
			return coderelay.NotFound("Team %q not found", name)
		}
		if err != nil {
			return fmt.Errorf("loading team: %w", err)
		}
		if isAdmin {
			return coderelay.Forbidden("Admin accounts cannot be deleted as teams")
		}

		for _, q := range []string{
			`DELETE FROM solved_problems WHERE team_name = ?`,
			`DELETE FROM failed_problems WHERE team_name = ?`,
			`DELETE FROM submissions WHERE team_name = ?`,
			`DELETE FROM violations WHERE team_name = ?`,
			`DELETE FROM relay_state WHERE team_name = ?`,
			`DELETE FROM team_members WHERE team_name = ?`,
			`DELETE FROM sessions WHERE subject = ?`,
			`DELETE FROM teams WHERE name = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, name); err != nil {
				return fmt.Errorf("deleting team rows: %w", err)
			}
		}
		return nil
	})
}

// Credentials is what login needs to know about an account.
type Credentials struct {
	Name          string
	PasswordHash  string
	IsAdmin       bool
	IsMasterAdmin bool
	IsBanned      bool
}

func (s *Store) Credentials(ctx context.Context, name string) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx, `
		SELECT name, password_hash, is_admin, is_master_admin, is_banned
		FROM teams WHERE name = ?
	`, name).Scan(&c.Name, &c.PasswordHash, &c.IsAdmin, &c.IsMasterAdmin, &c.IsBanned)
	if isNoRows(err) {
		return c, coderelay.ErrNotFound
	}
	return c, err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, name, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE teams SET password_hash = ? WHERE name = ?`, hash, name,
	)
	return err
}

// MemberLookup resolves a participant identifier to its team.
type MemberLookup struct {
	TeamName string
	Member   coderelay.Member
	IsBanned bool
}

func (s *Store) TeamByMemberID(ctx context.Context, memberID string) (MemberLookup, error) {
	var l MemberLookup
	err := s.db.QueryRowContext(ctx, `
		SELECT m.team_name, m.member_id, m.member_index, m.name, t.is_banned
		FROM team_members m
		JOIN teams t ON t.name = m.team_name
		WHERE m.member_id = ? AND t.is_admin = 0
	`, strings.TrimSpace(memberID)).Scan(&l.TeamName, &l.Member.ID, &l.Member.Index, &l.Member.Name, &l.IsBanned)
	if isNoRows(err) {
		return l, coderelay.ErrNotFound
	}
	return l, err
}

// GetTeam loads a team with its members and solved/failed sets.
func (s *Store) GetTeam(ctx context.Context, name string) (coderelay.Team, error) {
	var (
		t        coderelay.Team
		selected sql.NullInt64
		created  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, is_admin, is_master_admin, score, team_size, is_banned, selected_problem, created_at
		FROM teams WHERE name = ?
	`, name).Scan(&t.Name, &t.IsAdmin, &t.IsMasterAdmin, &t.Score, &t.TeamSize, &t.IsBanned, &selected, &created)
	if isNoRows(err) {
		return t, coderelay.ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if selected.Valid {
		p := int(selected.Int64)
		t.SelectedProblem = &p
	}
	t.CreatedAt = fromMillis(created)

	if t.Members, err = s.Members(ctx, name); err != nil {
		return t, err
	}
	if t.Solved, err = s.problemSet(ctx, `SELECT problem_id FROM solved_problems WHERE team_name = ? ORDER BY problem_id`, name); err != nil {
		return t, err
	}
	if t.Failed, err = s.problemSet(ctx, `SELECT problem_id FROM failed_problems WHERE team_name = ? ORDER BY problem_id`, name); err != nil {
		return t, err
	}
	return t, nil
}

// ListTeams returns every non-admin team with members and solved/failed sets.
func (s *Store) ListTeams(ctx context.Context) ([]coderelay.Team, error) {
	names, err := s.teamNames(ctx, `SELECT name FROM teams WHERE is_admin = 0 ORDER BY name`)
	if err != nil {
		return nil, err
	}

	teams := make([]coderelay.Team, 0, len(names))
	for _, n := range names {
		t, err := s.GetTeam(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("loading team %q: %w", n, err)
		}
		teams = append(teams, t)
	}
	return teams, nil
}

func (s *Store) Members(ctx context.Context, teamName string) ([]coderelay.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, member_index, name FROM team_members
		WHERE team_name = ? ORDER BY member_index
	`, teamName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []coderelay.Member{}
	for rows.Next() {
		var m coderelay.Member
		if err := rows.Scan(&m.ID, &m.Index, &m.Name); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) problemSet(ctx context.Context, query, teamName string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, query, teamName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetBanned flips the ban flag. Admin accounts cannot be banned. A team
// already in the requested state yields a Conflict.
func (s *Store) SetBanned(ctx context.Context, name string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE teams SET is_banned = ?
		WHERE name = ? AND is_admin = 0 AND is_banned <> ?
	`, boolInt(banned), name, boolInt(banned))
	if err != nil {
		return fmt.Errorf("updating ban flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	c, err := s.Credentials(ctx, name)
	if err != nil {
		return coderelay.NotFound("Team %q not found", name)
	}
	if c.IsAdmin {
		return coderelay.Forbidden("Admin accounts cannot be banned")
	}
	if banned {
		return coderelay.Conflict("Team %q is already banned", name)
	}
	return coderelay.Conflict("Team %q is not banned", name)
}

func (s *Store) IsBanned(ctx context.Context, name string) (bool, error) {
	var banned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_banned FROM teams WHERE name = ?`, name,
	).Scan(&banned)
	if isNoRows(err) {
		return false, coderelay.ErrNotFound
	}
	return banned, err
}

// RelayEligibleTeams returns unbanned non-admin teams with at least two
// members, members included.
func (s *Store) RelayEligibleTeams(ctx context.Context) ([]coderelay.Team, error) {
	names, err := s.teamNames(ctx, `
		SELECT t.name FROM teams t
		WHERE t.is_admin = 0 AND t.is_banned = 0
		  AND (SELECT COUNT(*) FROM team_members m WHERE m.team_name = t.name) >= 2
		ORDER BY t.name
	`)
	if err != nil {
		return nil, err
	}

	teams := make([]coderelay.Team, 0, len(names))
	for _, n := range names {
		members, err := s.Members(ctx, n)
		if err != nil {
			return nil, err
		}
		teams = append(teams, coderelay.Team{Name: n, Members: members, TeamSize: len(members)})
	}
	return teams, nil
}

// teamNames runs a single-column name query. The rows are closed before it
// returns so callers can issue follow-up queries on a one-connection pool.
func (s *Store) teamNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
