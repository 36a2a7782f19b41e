package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/competition"
	"github.com/binarybattles/coderelay/internal/relay"
	"github.com/binarybattles/coderelay/internal/store"
)

// RelayResponse is the relay state seen by one member. Only RelayActive
// and Members are set while no relay runs.
type RelayResponse struct {
	Success          bool               `json:"success"`
	RelayActive      bool               `json:"relayActive"`
	Message          string             `json:"message,omitempty"`
	IsActiveEditor   bool               `json:"isActiveEditor"`
	CurrentMember    *coderelay.Member  `json:"currentMember,omitempty"`
	TurnNumber       int                `json:"turnNumber,omitempty"`
	RelayDuration    int                `json:"relayDurationMinutes,omitempty"`
	RemainingSeconds int64              `json:"remainingSeconds"`
	RelayEndTime     *time.Time         `json:"relayEndTime,omitempty"`
	SharedCode       string             `json:"sharedCode"`
	SharedLanguage   string             `json:"sharedLanguage,omitempty"`
	Members          []coderelay.Member `json:"members"`
	History          []string           `json:"history,omitempty"`
}

type RelayWriteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func handleRelayState(logger *slog.Logger, s *store.Store, clock *competition.Clock, relays *relay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)

		members, err := s.Members(r.Context(), sess.Subject)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		members = nonNil(members)
		inactive := func(msg string) {
			writeJSON(w, http.StatusOK, RelayResponse{Success: true, Message: msg, Members: members})
		}

		comp, err := clock.State(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		if !comp.Active {
			inactive("Relay not started. Waiting for competition to begin.")
			return
		}

		st, err := relays.Read(r.Context(), sess.Subject)
		if errors.Is(err, coderelay.ErrNotFound) {
			if len(members) < 2 {
				inactive("Team needs at least 2 members for relay mode")
			} else {
				inactive("Relay not started. Waiting for competition to begin.")
			}
			return
		}
		if err != nil {
			respondError(w, r, logger, err)
			return
		}

		current := coderelay.Member{ID: st.CurrentMemberID, Index: st.CurrentMemberIndex, Name: st.CurrentMemberID}
		for _, m := range members {
			if strings.EqualFold(m.ID, st.CurrentMemberID) {
				current.Name = m.DisplayName()
				break
			}
		}
		end := st.EndTime
		writeJSON(w, http.StatusOK, RelayResponse{
			Success:          true,
			RelayActive:      true,
			IsActiveEditor:   st.IsEditor(sess.MemberID),
			CurrentMember:    &current,
			TurnNumber:       st.TurnNumber,
			RelayDuration:    comp.RelayDurationMinutes,
			RemainingSeconds: int64(st.Remaining(relays.Now()) / time.Second),
			RelayEndTime:     &end,
			SharedCode:       st.SharedCode,
			SharedLanguage:   st.SharedLanguage,
			Members:          members,
			History:          nonNil(st.History),
		})
	}
}

func handleRelayWrite(logger *slog.Logger, relays *relay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RelayWriteRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess := sessionFrom(r)
		if err := relays.Write(r.Context(), sess.Subject, sess.MemberID, req.Code, req.Language); err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeOK(w)
	}
}
