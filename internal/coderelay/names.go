package coderelay

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	dashRun       = regexp.MustCompile(`-+`)
	teamNameJunk  = regexp.MustCompile(`[^a-z0-9-]`)
	adminNameOK   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// NormalizeTeamName lowercases name, turns whitespace runs into single
// dashes and drops everything outside [a-z0-9-].
func NormalizeTeamName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = whitespaceRun.ReplaceAllString(n, "-")
	n = dashRun.ReplaceAllString(n, "-")
	return teamNameJunk.ReplaceAllString(n, "")
}

const MinAdminPasswordLen = 6

// ValidateAdminCredentials checks a new admin account's username and password.
func ValidateAdminCredentials(username, password string) error {
	if !adminNameOK.MatchString(username) {
		return Validation("Username can only contain letters, numbers, and underscores")
	}
	if len(password) < MinAdminPasswordLen {
		return Validation("Password must be at least %d characters", MinAdminPasswordLen)
	}
	return nil
}
