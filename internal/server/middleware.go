package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/competition"
	"github.com/binarybattles/coderelay/internal/ledger"
)

type ctxKey int

const ctxKeySession ctxKey = iota

const sessionCookieName = "coderelay_session"

const bannedMessage = "Your team has been banned from the competition. Please contact the POC."

// tokenFrom reads the session token from the cookie, falling back to a
// bearer Authorization header.
func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token)
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireSession resolves the caller's session and stores it in the
// request context.
func requireSession(logger *slog.Logger, a *auth.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := a.Authenticate(r.Context(), tokenFrom(r))
			if errors.Is(err, coderelay.ErrUnauthorized) {
				writeReason(w, http.StatusUnauthorized, coderelay.Message(err, "Not authenticated"), auth.ReasonNoSession)
				return
			}
			if err != nil {
				respondError(w, r, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeySession, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(r *http.Request) coderelay.Session {
	return r.Context().Value(ctxKeySession).(coderelay.Session)
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r).IsAdmin {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireMasterAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r).IsMasterAdmin {
			writeError(w, http.StatusForbidden, "Master admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r).IsAdmin {
			writeReason(w, http.StatusForbidden, "Admin users should use admin page", "is_admin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rejectBanned logs a banned team out on its next request.
func rejectBanned(logger *slog.Logger, l *ledger.Ledger, a *auth.Authority, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := sessionFrom(r)
			banned, err := l.IsBanned(r.Context(), sess.Subject)
			if errors.Is(err, coderelay.ErrNotFound) {
				// Deleted teams are handled by the endpoint itself.
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				respondError(w, r, logger, err)
				return
			}
			if banned {
				if err := a.Revoke(r.Context(), sess.ID); err != nil {
					logger.Warn("revoking banned session", "subject", sess.Subject, "error", err)
				}
				clearSessionCookie(w, secure)
				writeReason(w, http.StatusForbidden, bannedMessage, "team_banned")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireActive rejects gameplay requests outside the competition window.
func requireActive(logger *slog.Logger, clock *competition.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			active, err := clock.IsActive(r.Context())
			if err != nil {
				respondError(w, r, logger, err)
				return
			}
			if !active {
				writeError(w, http.StatusForbidden, "Competition is not active")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}
