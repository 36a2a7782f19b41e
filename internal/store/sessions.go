package store

import (
	"context"
	"fmt"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

func (s *Store) CreateSession(ctx context.Context, sess coderelay.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, member_id, is_admin, is_master_admin, allowed_path, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Subject, sess.MemberID, boolInt(sess.IsAdmin), boolInt(sess.IsMasterAdmin),
		sess.AllowedPath, toMillis(sess.CreatedAt), toMillis(sess.ExpiresAt))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Session returns the session row if it exists and has not expired at now.
func (s *Store) Session(ctx context.Context, id string, now time.Time) (coderelay.Session, error) {
	var (
		sess             coderelay.Session
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject, member_id, is_admin, is_master_admin, allowed_path, created_at, expires_at
		FROM sessions WHERE id = ? AND expires_at > ?
	`, id, toMillis(now)).Scan(&sess.ID, &sess.Subject, &sess.MemberID, &sess.IsAdmin,
		&sess.IsMasterAdmin, &sess.AllowedPath, &created, &expires)
	if isNoRows(err) {
		return sess, coderelay.ErrNotFound
	}
	if err != nil {
		return sess, err
	}
	sess.CreatedAt = fromMillis(created)
	sess.ExpiresAt = fromMillis(expires)
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteSessionsFor revokes every session of subject.
func (s *Store) DeleteSessionsFor(ctx context.Context, subject string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE subject = ?`, subject)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
