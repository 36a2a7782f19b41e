package store

import (
	"context"
	"fmt"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

// MasterAdminName is the seeded account that manages other admins.
const MasterAdminName = "admin"

type AdminInfo struct {
	Username      string    `json:"username"`
	IsMasterAdmin bool      `json:"isMasterAdmin"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SeedMasterAdmin creates the master admin account when it does not exist.
// It reports whether a row was inserted.
func (s *Store) SeedMasterAdmin(ctx context.Context, passwordHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO teams (name, password_hash, is_admin, is_master_admin, created_at)
		VALUES (?, ?, 1, 1, ?)
	`, MasterAdminName, passwordHash, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("seeding master admin: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]AdminInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, is_master_admin, created_at FROM teams
		WHERE is_admin = 1 ORDER BY is_master_admin DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	admins := []AdminInfo{}
	for rows.Next() {
		var (
			a       AdminInfo
			created int64
		)
		if err := rows.Scan(&a.Username, &a.IsMasterAdmin, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = fromMillis(created)
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// RemoveAdmin deletes a non-master admin account and its sessions.
func (s *Store) RemoveAdmin(ctx context.Context, username string) error {
	c, err := s.Credentials(ctx, username)
	if err != nil || !c.IsAdmin {
		return coderelay.NotFound("Admin %q not found", username)
	}
	if c.IsMasterAdmin {
		return coderelay.Forbidden("The master admin cannot be removed")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE subject = ?`, username); err != nil {
		return fmt.Errorf("deleting admin sessions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM teams WHERE name = ? AND is_admin = 1 AND is_master_admin = 0`, username,
	); err != nil {
		return fmt.Errorf("deleting admin: %w", err)
	}
	return nil
}
