package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/competition"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/ledger"
	"github.com/binarybattles/coderelay/internal/store"
)

type TeamResponse struct {
	Success     bool                         `json:"success"`
	TeamName    string                       `json:"teamName"`
	MemberID    string                       `json:"memberId,omitempty"`
	Team        TeamView                     `json:"teamData"`
	Problems    []judge.Problem              `json:"problems"`
	Leaderboard []coderelay.LeaderboardEntry `json:"leaderboard"`
	Competition CompetitionView              `json:"competition"`
}

// handleTeam serves the team page state. A team deleted since login is
// logged out.
func handleTeam(logger *slog.Logger, s *store.Store, a *auth.Authority, clock *competition.Clock, problems *judge.ProblemSet, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)

		team, err := s.GetTeam(r.Context(), sess.Subject)
		if errors.Is(err, coderelay.ErrNotFound) {
			if err := a.Revoke(r.Context(), sess.ID); err != nil {
				logger.Warn("revoking session of deleted team", "subject", sess.Subject, "error", err)
			}
			clearSessionCookie(w, secure)
			writeReason(w, http.StatusNotFound, "Team not found", "team_not_found")
			return
		}
		if err != nil {
			respondError(w, r, logger, err)
			return
		}

		board, err := s.Leaderboard(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		st, err := clock.State(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, TeamResponse{
			Success:     true,
			TeamName:    team.Name,
			MemberID:    sess.MemberID,
			Team:        teamView(team),
			Problems:    problems.Public(),
			Leaderboard: nonNil(board),
			Competition: competitionView(st),
		})
	}
}

func handleCompetition(logger *slog.Logger, clock *competition.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := clock.State(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, competitionView(st))
	}
}

type ViolationRequest struct {
	Type    string `json:"violationType"`
	Details string `json:"details"`
}

type ViolationResponse struct {
	Success        bool   `json:"success"`
	ViolationCount int    `json:"violationCount"`
	Message        string `json:"message"`
}

func handleReportViolation(logger *slog.Logger, l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViolationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess := sessionFrom(r)
		n, err := l.RecordViolation(r.Context(), sess.Subject, req.Type, req.Details)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ViolationResponse{
			Success:        true,
			ViolationCount: n,
			Message:        "Violation recorded: " + req.Type,
		})
	}
}
