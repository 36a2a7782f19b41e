// Package auth issues and validates sessions for teams, participants and
// admins.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/store"
)

// Validation failure reasons reported to clients.
const (
	ReasonNoSession       = "no_session"
	ReasonSessionMismatch = "session_mismatch"
	ReasonInvalidPath     = "invalid_path"
)

const bannedMessage = "Your team has been banned from the competition"

// Limiter throttles login attempts per key. Allow reports whether another
// attempt is permitted.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Authority struct {
	store   *store.Store
	tokens  *Tokens
	ttl     time.Duration
	limiter Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Authority)

func WithLimiter(l Limiter) Option { return func(a *Authority) { a.limiter = l } }

func WithClock(now func() time.Time) Option { return func(a *Authority) { a.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Authority) { a.metrics = m } }

func New(s *store.Store, tokens *Tokens, ttl time.Duration, logger *slog.Logger, opts ...Option) *Authority {
	a := &Authority{
		store:  s,
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	return a
}

type LoginRequest struct {
	Identifier       string
	Password         string
	RegistrationOnly bool
	// ClientKey identifies the caller for throttling, usually the client IP.
	ClientKey string
}

// LoginResult is a freshly issued session and its signed client token.
type LoginResult struct {
	Session coderelay.Session
	Token   string
}

// Login resolves the identifier, checks credentials and the ban flag, and
// issues a new session. Registration logins resolve a participant by member
// id without a password and are bound to the team page. Password logins
// resolve a team or admin account by name.
func (a *Authority) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	id := strings.TrimSpace(req.Identifier)
	if id == "" {
		return LoginResult{}, coderelay.Validation("Identifier required")
	}
	if !req.RegistrationOnly && req.Password == "" {
		return LoginResult{}, coderelay.Validation("Username and password required")
	}

	if a.limiter != nil && req.ClientKey != "" {
		ok, err := a.limiter.Allow(ctx, req.ClientKey)
		if err != nil {
			a.logger.Warn("login limiter unavailable", "error", err)
		} else if !ok {
			a.metrics.Logins.WithLabelValues("limited").Inc()
			return LoginResult{}, coderelay.RateLimited("Too many login attempts. Try again later.")
		}
	}

	var (
		sess coderelay.Session
		err  error
	)
	if req.RegistrationOnly {
		sess, err = a.resolveParticipant(ctx, id)
	} else {
		sess, err = a.resolveAccount(ctx, id, req.Password)
	}
	if err != nil {
		switch {
		case errors.Is(err, coderelay.ErrForbidden):
			a.metrics.Logins.WithLabelValues("banned").Inc()
		case errors.Is(err, coderelay.ErrUnauthorized):
			a.metrics.Logins.WithLabelValues("invalid").Inc()
		}
		return LoginResult{}, err
	}

	now := a.now()
	sess.ID = uuid.NewString()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(a.ttl)
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	token, err := a.tokens.Sign(sess)
	if err != nil {
		return LoginResult{}, err
	}

	a.metrics.Logins.WithLabelValues("ok").Inc()
	a.logger.Info("login", "subject", sess.Subject, "member_id", sess.MemberID, "admin", sess.IsAdmin)
	return LoginResult{Session: sess, Token: token}, nil
}

func (a *Authority) resolveParticipant(ctx context.Context, memberID string) (coderelay.Session, error) {
	l, err := a.store.TeamByMemberID(ctx, memberID)
	if errors.Is(err, coderelay.ErrNotFound) {
		return coderelay.Session{}, coderelay.Unauthorized("Invalid registration ID")
	}
	if err != nil {
		return coderelay.Session{}, err
	}
	if l.IsBanned {
		return coderelay.Session{}, coderelay.Forbidden(bannedMessage)
	}
	return coderelay.Session{
		Subject:     l.TeamName,
		MemberID:    l.Member.ID,
		AllowedPath: coderelay.PathTeam,
	}, nil
}

func (a *Authority) resolveAccount(ctx context.Context, name, password string) (coderelay.Session, error) {
	c, err := a.store.Credentials(ctx, name)
	if errors.Is(err, coderelay.ErrNotFound) {
		return coderelay.Session{}, coderelay.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return coderelay.Session{}, err
	}

	// Teams created without a password only accept registration logins.
	if c.PasswordHash == "" {
		return coderelay.Session{}, coderelay.Unauthorized("Invalid credentials")
	}
	ok, rehash, err := VerifyPassword(c.PasswordHash, password)
	if err != nil {
		a.logger.Error("unreadable password hash", "subject", name, "error", err)
	}
	if !ok {
		return coderelay.Session{}, coderelay.Unauthorized("Invalid credentials")
	}
	if !c.IsAdmin && c.IsBanned {
		return coderelay.Session{}, coderelay.Forbidden(bannedMessage)
	}

	if rehash {
		if hash, err := HashPassword(password); err == nil {
			if err := a.store.UpdatePasswordHash(ctx, c.Name, hash); err != nil {
				a.logger.Warn("rehashing password", "subject", c.Name, "error", err)
			}
		}
	}

	sess := coderelay.Session{
		Subject:       c.Name,
		IsAdmin:       c.IsAdmin,
		IsMasterAdmin: c.IsMasterAdmin,
		AllowedPath:   coderelay.PathTeam,
	}
	if c.IsAdmin {
		sess.AllowedPath = coderelay.PathAdmin
	}
	return sess, nil
}

// Authenticate returns the live session behind a client token. The token
// must verify and its server-side record must still exist.
func (a *Authority) Authenticate(ctx context.Context, token string) (coderelay.Session, error) {
	if token == "" {
		return coderelay.Session{}, coderelay.Unauthorized("Not authenticated")
	}
	now := a.now()
	claimed, err := a.tokens.Parse(token, now)
	if err != nil {
		return coderelay.Session{}, coderelay.Unauthorized("Not authenticated")
	}
	sess, err := a.store.Session(ctx, claimed.ID, now)
	if errors.Is(err, coderelay.ErrNotFound) {
		return coderelay.Session{}, coderelay.Unauthorized("Session expired")
	}
	if err != nil {
		return coderelay.Session{}, err
	}
	return sess, nil
}

// Validation is the outcome of Validate. Destroyed is set when the
// session was revoked as a result.
type Validation struct {
	Valid     bool
	Reason    string
	Session   coderelay.Session
	Destroyed bool
}

// Validate checks that the client-echoed sessionID still matches the
// session behind token and, for non-admins, that currentPath is the page the
// session was bound to. A mismatch revokes the session.
func (a *Authority) Validate(ctx context.Context, token, sessionID, currentPath string) (Validation, error) {
	sess, err := a.Authenticate(ctx, token)
	if errors.Is(err, coderelay.ErrUnauthorized) {
		return Validation{Reason: ReasonNoSession}, nil
	}
	if err != nil {
		return Validation{}, err
	}

	reason := ""
	switch {
	case sess.ID != sessionID:
		reason = ReasonSessionMismatch
	case !sess.IsAdmin && currentPath != sess.AllowedPath:
		reason = ReasonInvalidPath
	}
	if reason == "" {
		return Validation{Valid: true, Session: sess}, nil
	}

	if err := a.store.DeleteSession(ctx, sess.ID); err != nil {
		return Validation{}, err
	}
	a.logger.Info("session revoked", "subject", sess.Subject, "reason", reason)
	return Validation{Reason: reason, Destroyed: true}, nil
}

// Logout revokes the session behind token, if any.
func (a *Authority) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claimed, err := a.tokens.Parse(token, a.now())
	if err != nil {
		return nil
	}
	return a.store.DeleteSession(ctx, claimed.ID)
}

// Revoke drops the session with the given id.
func (a *Authority) Revoke(ctx context.Context, sessionID string) error {
	return a.store.DeleteSession(ctx, sessionID)
}

// Sweep deletes expired session rows.
func (a *Authority) Sweep(ctx context.Context) (int64, error) {
	return a.store.DeleteExpiredSessions(ctx, a.now())
}
