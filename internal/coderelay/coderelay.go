// Package coderelay defines the core domain types shared by the competition
// components. It has no external dependencies.
package coderelay

import (
	"strings"
	"time"
)

// Page paths a session is bound to.
const (
	PathAdmin = "/admin"
	PathTeam  = "/team"
)

type Team struct {
	Name            string
	IsAdmin         bool
	IsMasterAdmin   bool
	Score           int
	TeamSize        int
	IsBanned        bool
	SelectedProblem *int
	Members         []Member
	Solved          []int
	Failed          []int
	CreatedAt       time.Time
}

type Member struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// DisplayName returns the member's name, falling back to the id.
func (m Member) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// RelayState is the live turn state of one team.
type RelayState struct {
	TeamName           string
	CurrentMemberID    string
	CurrentMemberIndex int
	StartTime          time.Time
	EndTime            time.Time
	TurnNumber         int
	PreviousMemberID   string
	SharedCode         string
	SharedLanguage     string
	History            []string
}

// Expired reports whether the turn deadline has passed at now.
func (s RelayState) Expired(now time.Time) bool {
	return !now.Before(s.EndTime)
}

// Remaining is the time left in the current turn, never negative.
func (s RelayState) Remaining(now time.Time) time.Duration {
	if d := s.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsEditor reports whether memberID holds write access. Ids compare
// case-insensitively.
func (s RelayState) IsEditor(memberID string) bool {
	return memberID != "" && strings.EqualFold(memberID, s.CurrentMemberID)
}

// Turn is one archived relay hand-off.
type Turn struct {
	TeamName   string    `json:"teamName"`
	TurnNumber int       `json:"turnNumber"`
	MemberID   string    `json:"memberId"`
	StartedAt  time.Time `json:"startedAt"`
	EndsAt     time.Time `json:"endsAt"`
}

type SubmissionKind string

const (
	KindAutosave SubmissionKind = "autosave"
	KindFinal    SubmissionKind = "final"
)

type Submission struct {
	ID          int64
	TeamName    string
	ProblemID   int
	Code        string
	Language    string
	Kind        SubmissionKind
	Passed      bool
	Message     string
	SubmittedAt time.Time
}

type Violation struct {
	ID        int64     `json:"id"`
	TeamName  string    `json:"teamName"`
	Type      string    `json:"violationType"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}

// CompetitionWindow is the singleton competition clock row.
type CompetitionWindow struct {
	StartTime            *time.Time
	DurationMinutes      int
	RelayDurationMinutes int
}

// Duration is the total competition length.
func (w CompetitionWindow) Duration() time.Duration {
	return time.Duration(w.DurationMinutes) * time.Minute
}

// RelayDuration is the length of the next relay turn.
func (w CompetitionWindow) RelayDuration() time.Duration {
	return time.Duration(w.RelayDurationMinutes) * time.Minute
}

// Active reports whether the competition is running at now. At the exact
// end boundary the competition is already inactive.
func (w CompetitionWindow) Active(now time.Time) bool {
	if w.StartTime == nil {
		return false
	}
	return now.Sub(*w.StartTime) < w.Duration()
}

// Remaining is the time left in the competition, zero when inactive.
func (w CompetitionWindow) Remaining(now time.Time) time.Duration {
	if !w.Active(now) {
		return 0
	}
	return w.StartTime.Add(w.Duration()).Sub(now)
}

// Session is the identity a request acts under.
type Session struct {
	ID            string
	Subject       string
	MemberID      string
	IsAdmin       bool
	IsMasterAdmin bool
	AllowedPath   string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

type LeaderboardEntry struct {
	Name           string     `json:"name"`
	Score          int        `json:"score"`
	Solved         int        `json:"solved"`
	LastSubmission *time.Time `json:"lastSubmission"`
}

type ProblemStat struct {
	ProblemID int `json:"problemId"`
	Solved    int `json:"solved"`
	Attempted int `json:"attempted"`
}

type Stats struct {
	TotalTeams        int           `json:"totalTeams"`
	ActiveTeams       int           `json:"activeTeams"`
	TotalSubmissions  int           `json:"totalSubmissions"`
	PassedSubmissions int           `json:"passedSubmissions"`
	FailedSubmissions int           `json:"failedSubmissions"`
	TotalViolations   int           `json:"totalViolations"`
	ProblemStats      []ProblemStat `json:"problemStats"`
}
