package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// claims is the client-held copy of a session.
type claims struct {
	jwt.RegisteredClaims
	SessionID     string `json:"sid"`
	MemberID      string `json:"mid,omitempty"`
	IsAdmin       bool   `json:"adm,omitempty"`
	IsMasterAdmin bool   `json:"madm,omitempty"`
	AllowedPath   string `json:"path"`
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Sign encodes sess as a token that expires with the session.
func (t *Tokens) Sign(sess coderelay.Session) (string, error) {
	c := &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sess.Subject,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		SessionID:     sess.ID,
		MemberID:      sess.MemberID,
		IsAdmin:       sess.IsAdmin,
		IsMasterAdmin: sess.IsMasterAdmin,
		AllowedPath:   sess.AllowedPath,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token at now and returns the session it carries.
func (t *Tokens) Parse(token string, now time.Time) (coderelay.Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return coderelay.Session{}, ErrExpiredToken
		}
		return coderelay.Session{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.SessionID == "" {
		return coderelay.Session{}, ErrInvalidToken
	}
	sess := coderelay.Session{
		ID:            c.SessionID,
		Subject:       c.Subject,
		MemberID:      c.MemberID,
		IsAdmin:       c.IsAdmin,
		IsMasterAdmin: c.IsMasterAdmin,
		AllowedPath:   c.AllowedPath,
	}
	if c.IssuedAt != nil {
		sess.CreatedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}
	return sess, nil
}
