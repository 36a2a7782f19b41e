package server

import (
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/competition"
)

// CompetitionWindowView is the stored competition configuration.
type CompetitionWindowView struct {
	StartTime     *time.Time `json:"startTime"`
	Duration      int        `json:"duration"`
	RelayDuration int        `json:"relayDuration"`
}

func windowView(w coderelay.CompetitionWindow) CompetitionWindowView {
	return CompetitionWindowView{
		StartTime:     w.StartTime,
		Duration:      w.DurationMinutes,
		RelayDuration: w.RelayDurationMinutes,
	}
}

// CompetitionView adds the derived clock state to the window.
type CompetitionView struct {
	CompetitionWindowView
	Active           bool  `json:"active"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

func competitionView(st competition.State) CompetitionView {
	return CompetitionView{
		CompetitionWindowView: windowView(st.CompetitionWindow),
		Active:                st.Active,
		RemainingSeconds:      int64(st.Remaining / time.Second),
	}
}

type SubmissionView struct {
	ID          int64     `json:"id"`
	TeamName    string    `json:"team"`
	ProblemID   int       `json:"problemId"`
	Language    string    `json:"language"`
	Kind        string    `json:"kind"`
	Passed      bool      `json:"passed"`
	Message     string    `json:"message"`
	Code        string    `json:"code,omitempty"`
	SubmittedAt time.Time `json:"timestamp"`
}

func submissionViews(subs []coderelay.Submission, withCode bool) []SubmissionView {
	out := make([]SubmissionView, 0, len(subs))
	for _, s := range subs {
		v := SubmissionView{
			ID:          s.ID,
			TeamName:    s.TeamName,
			ProblemID:   s.ProblemID,
			Language:    s.Language,
			Kind:        string(s.Kind),
			Passed:      s.Passed,
			Message:     s.Message,
			SubmittedAt: s.SubmittedAt,
		}
		if withCode {
			v.Code = s.Code
		}
		out = append(out, v)
	}
	return out
}

// TeamView is a team as the owning team sees it.
type TeamView struct {
	Name            string             `json:"name"`
	Score           int                `json:"score"`
	TeamSize        int                `json:"teamSize"`
	SelectedProblem *int               `json:"selectedProblem"`
	Solved          []int              `json:"solved"`
	Failed          []int              `json:"failed"`
	Members         []coderelay.Member `json:"members"`
}

func teamView(t coderelay.Team) TeamView {
	return TeamView{
		Name:            t.Name,
		Score:           t.Score,
		TeamSize:        t.TeamSize,
		SelectedProblem: t.SelectedProblem,
		Solved:          nonNil(t.Solved),
		Failed:          nonNil(t.Failed),
		Members:         nonNil(t.Members),
	}
}

// AdminTeamView is a team as the admin dashboard sees it.
type AdminTeamView struct {
	TeamView
	IsAdmin    bool `json:"isAdmin"`
	IsBanned   bool `json:"isBanned"`
	Violations int  `json:"violations"`
}
