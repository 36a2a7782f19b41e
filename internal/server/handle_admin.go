package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/competition"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/ledger"
	"github.com/binarybattles/coderelay/internal/scoring"
	"github.com/binarybattles/coderelay/internal/store"
)

const maxTeamMembers = 4

// dashboardViolations caps the violations shown on the dashboard.
const dashboardViolations = 200

type DashboardResponse struct {
	Success       bool                         `json:"success"`
	IsMasterAdmin bool                         `json:"isMasterAdmin"`
	Teams         []AdminTeamView              `json:"teams"`
	Submissions   []SubmissionView             `json:"submissions"`
	Competition   CompetitionView              `json:"competition"`
	Leaderboard   []coderelay.LeaderboardEntry `json:"leaderboard"`
	Violations    []coderelay.Violation        `json:"violations"`
	Stats         coderelay.Stats              `json:"stats"`
}

func handleDashboard(logger *slog.Logger, now func() time.Time, s *store.Store, clock *competition.Clock, l *ledger.Ledger, svc *scoring.Service, problems *judge.ProblemSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fail := func(err error) { respondError(w, r, logger, err) }

		teams, err := s.ListTeams(ctx)
		if err != nil {
			fail(err)
			return
		}
		counts, err := l.Counts(ctx)
		if err != nil {
			fail(err)
			return
		}
		finals, err := svc.FinalSubmissions(ctx)
		if err != nil {
			fail(err)
			return
		}
		st, err := clock.State(ctx)
		if err != nil {
			fail(err)
			return
		}
		board, err := s.Leaderboard(ctx)
		if err != nil {
			fail(err)
			return
		}
		viol, err := l.Violations(ctx, "", dashboardViolations)
		if err != nil {
			fail(err)
			return
		}
		stats, err := s.Stats(ctx, now(), problems.IDs())
		if err != nil {
			fail(err)
			return
		}

		views := make([]AdminTeamView, 0, len(teams))
		for _, t := range teams {
			views = append(views, AdminTeamView{
				TeamView:   teamView(t),
				IsAdmin:    t.IsAdmin,
				IsBanned:   t.IsBanned,
				Violations: counts[t.Name],
			})
		}
		writeJSON(w, http.StatusOK, DashboardResponse{
			Success:       true,
			IsMasterAdmin: sessionFrom(r).IsMasterAdmin,
			Teams:         views,
			Submissions:   submissionViews(finals, true),
			Competition:   competitionView(st),
			Leaderboard:   nonNil(board),
			Violations:    nonNil(viol),
			Stats:         stats,
		})
	}
}

func handleStats(logger *slog.Logger, now func() time.Time, s *store.Store, problems *judge.ProblemSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Stats(r.Context(), now(), problems.IDs())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type MemberInput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TeamRequest creates or updates a team. RegistrationNumbers is a comma or
// whitespace separated list of member ids, used when Members is empty.
type TeamRequest struct {
	TeamName            string        `json:"teamName"`
	Password            string        `json:"password,omitempty"`
	Members             []MemberInput `json:"members,omitempty"`
	RegistrationNumbers string        `json:"registrationNumbers,omitempty"`
}

type TeamCreatedResponse struct {
	Success  bool   `json:"success"`
	TeamName string `json:"teamName"`
}

func (req TeamRequest) members() ([]coderelay.Member, error) {
	var in []MemberInput
	if len(req.Members) > 0 {
		in = req.Members
	} else {
		for _, id := range strings.FieldsFunc(req.RegistrationNumbers, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
		}) {
			in = append(in, MemberInput{ID: id})
		}
	}
	if len(in) > maxTeamMembers {
		return nil, coderelay.Validation("A team can have at most %d members", maxTeamMembers)
	}
	out := make([]coderelay.Member, 0, len(in))
	for i, m := range in {
		out = append(out, coderelay.Member{ID: strings.TrimSpace(m.ID), Index: i, Name: strings.TrimSpace(m.Name)})
	}
	return out, nil
}

func handleAddTeam(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name := coderelay.NormalizeTeamName(req.TeamName)
		if name == "" {
			writeError(w, http.StatusBadRequest, "Invalid team name")
			return
		}
		members, err := req.members()
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		if len(members) == 0 && req.Password == "" {
			writeError(w, http.StatusBadRequest, "A team needs a password or at least one member")
			return
		}

		var hash string
		if req.Password != "" {
			if hash, err = auth.HashPassword(req.Password); err != nil {
				respondError(w, r, logger, err)
				return
			}
		}
		if err := s.CreateTeam(r.Context(), store.NewTeam{Name: name, PasswordHash: hash, Members: members}); err != nil {
			respondError(w, r, logger, err)
			return
		}
		logger.Info("team created", "team", name, "members", len(members), "by", sessionFrom(r).Subject)
		writeJSON(w, http.StatusOK, TeamCreatedResponse{Success: true, TeamName: name})
	}
}

// handleUpdateTeam replaces a team's members wholesale.
func handleUpdateTeam(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		members, err := req.members()
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		if err := s.ReplaceMembers(r.Context(), req.TeamName, members); err != nil {
			respondError(w, r, logger, err)
			return
		}
		logger.Info("team members replaced", "team", req.TeamName, "members", len(members))
		writeOK(w)
	}
}

type TeamNameRequest struct {
	TeamName string `json:"teamName"`
}

func handleDeleteTeam(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TeamNameRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.DeleteTeam(r.Context(), req.TeamName); err != nil {
			respondError(w, r, logger, err)
			return
		}
		logger.Info("team deleted", "team", req.TeamName, "by", sessionFrom(r).Subject)
		writeOK(w)
	}
}

type BanRequest struct {
	TeamName string `json:"teamName"`
	// Action is "ban" or "unban". Anything else toggles the flag.
	Action string `json:"action"`
}

func handleBanTeam(logger *slog.Logger, l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TeamName == "" {
			writeError(w, http.StatusBadRequest, "Team name is required")
			return
		}

		ban := req.Action == "ban"
		if req.Action != "ban" && req.Action != "unban" {
			banned, err := l.IsBanned(r.Context(), req.TeamName)
			if err != nil {
				respondError(w, r, logger, teamNotFound(err, req.TeamName))
				return
			}
			ban = !banned
		}

		var err error
		if ban {
			err = l.Ban(r.Context(), req.TeamName)
		} else {
			err = l.Unban(r.Context(), req.TeamName)
		}
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeOK(w)
	}
}

// teamNotFound gives a bare ErrNotFound a message naming the team.
func teamNotFound(err error, team string) error {
	if errors.Is(err, coderelay.ErrNotFound) {
		return coderelay.NotFound("Team %q not found", team)
	}
	return err
}

type StartCompetitionRequest struct {
	Duration      int `json:"duration"`
	RelayDuration int `json:"relayDuration"`
}

type StartCompetitionResponse struct {
	Success           bool `json:"success"`
	Duration          int  `json:"duration"`
	RelayDuration     int  `json:"relayDuration"`
	RelaysInitialized int  `json:"relaysInitialized"`
}

const defaultCompetitionMinutes = 120

func handleStartCompetition(logger *slog.Logger, clock *competition.Clock, defaultRelayMinutes int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartCompetitionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Duration == 0 {
			req.Duration = defaultCompetitionMinutes
		}
		if req.RelayDuration == 0 {
			req.RelayDuration = defaultRelayMinutes
		}

		n, err := clock.Start(r.Context(), req.Duration, req.RelayDuration)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StartCompetitionResponse{
			Success:           true,
			Duration:          req.Duration,
			RelayDuration:     req.RelayDuration,
			RelaysInitialized: n,
		})
	}
}

func handleStopCompetition(logger *slog.Logger, clock *competition.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := clock.Stop(r.Context()); err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeOK(w)
	}
}

type RelayDurationRequest struct {
	RelayDuration int `json:"relayDuration"`
}

// handleSetRelayDuration changes the length of turns that start later.
func handleSetRelayDuration(logger *slog.Logger, clock *competition.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RelayDurationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := clock.SetRelayDuration(r.Context(), req.RelayDuration); err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeOK(w)
	}
}

type RelayTurnsResponse struct {
	Success bool             `json:"success"`
	Turns   []coderelay.Turn `json:"turns"`
}

func handleRelayTurns(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		team := r.URL.Query().Get("team")
		if team == "" {
			writeError(w, http.StatusBadRequest, "team query parameter required")
			return
		}
		turns, err := s.RelayTurns(r.Context(), team)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, RelayTurnsResponse{Success: true, Turns: nonNil(turns)})
	}
}
