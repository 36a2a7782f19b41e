package server

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
)

// LoginRequest is the request body for POST /api/login. Username is
// accepted as an alias of Identifier.
type LoginRequest struct {
	Identifier       string `json:"identifier"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	RegistrationOnly bool   `json:"registrationOnly"`
}

type LoginResponse struct {
	Success       bool   `json:"success"`
	IsAdmin       bool   `json:"isAdmin"`
	IsMasterAdmin bool   `json:"isMasterAdmin"`
	SessionID     string `json:"sessionId"`
	AllowedPath   string `json:"allowedPath"`
	TeamName      string `json:"teamName"`
	MemberID      string `json:"memberId,omitempty"`
}

// SessionUser is the identity a session carries.
type SessionUser struct {
	Name          string `json:"name"`
	MemberID      string `json:"memberId,omitempty"`
	IsAdmin       bool   `json:"isAdmin"`
	IsMasterAdmin bool   `json:"isMasterAdmin"`
	SessionID     string `json:"sessionId"`
	AllowedPath   string `json:"allowedPath"`
}

func sessionUser(s coderelay.Session) *SessionUser {
	return &SessionUser{
		Name:          s.Subject,
		MemberID:      s.MemberID,
		IsAdmin:       s.IsAdmin,
		IsMasterAdmin: s.IsMasterAdmin,
		SessionID:     s.ID,
		AllowedPath:   s.AllowedPath,
	}
}

type SessionResponse struct {
	User *SessionUser `json:"user"`
}

type ValidateRequest struct {
	SessionID   string `json:"sessionId"`
	CurrentPath string `json:"currentPath"`
}

type ValidateResponse struct {
	Valid  bool         `json:"valid"`
	Reason string       `json:"reason,omitempty"`
	User   *SessionUser `json:"user,omitempty"`
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func handleLogin(logger *slog.Logger, a *auth.Authority, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Identifier == "" {
			req.Identifier = req.Username
		}

		res, err := a.Login(r.Context(), auth.LoginRequest{
			Identifier:       req.Identifier,
			Password:         req.Password,
			RegistrationOnly: req.RegistrationOnly,
			ClientKey:        clientIP(r),
		})
		if err != nil {
			respondError(w, r, logger, err)
			return
		}

		setSessionCookie(w, res.Token, res.Session.ExpiresAt, secure)
		writeJSON(w, http.StatusOK, LoginResponse{
			Success:       true,
			IsAdmin:       res.Session.IsAdmin,
			IsMasterAdmin: res.Session.IsMasterAdmin,
			SessionID:     res.Session.ID,
			AllowedPath:   res.Session.AllowedPath,
			TeamName:      res.Session.Subject,
			MemberID:      res.Session.MemberID,
		})
	}
}

func handleLogout(logger *slog.Logger, a *auth.Authority, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Logout(r.Context(), tokenFrom(r)); err != nil {
			logger.Warn("logout", "error", err)
		}
		clearSessionCookie(w, secure)
		writeOK(w)
	}
}

func handleSession(a *auth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.Authenticate(r.Context(), tokenFrom(r))
		if err != nil {
			writeJSON(w, http.StatusOK, SessionResponse{})
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{User: sessionUser(sess)})
	}
}

func handleValidateSession(logger *slog.Logger, a *auth.Authority, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ValidateRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		v, err := a.Validate(r.Context(), tokenFrom(r), req.SessionID, req.CurrentPath)
		if err != nil {
			logger.Error("validating session", "error", err)
			writeJSON(w, http.StatusInternalServerError, ValidateResponse{Reason: "error"})
			return
		}
		if v.Destroyed {
			clearSessionCookie(w, secure)
		}
		if !v.Valid {
			writeJSON(w, http.StatusOK, ValidateResponse{Reason: v.Reason})
			return
		}
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: true, User: sessionUser(v.Session)})
	}
}
