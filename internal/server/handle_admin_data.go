package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/export"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/ledger"
	"github.com/binarybattles/coderelay/internal/scoring"
	"github.com/binarybattles/coderelay/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleDownloadSubmissions streams final submissions as an XLSX workbook.
// ?type=analytics adds stats, teams and violations.
func handleDownloadSubmissions(logger *slog.Logger, now func() time.Time, s *store.Store, svc *scoring.Service, l *ledger.Ledger, problems *judge.ProblemSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := export.ParseKind(r.URL.Query().Get("type"))
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid type")
			return
		}
		ctx := r.Context()

		finals, err := svc.FinalSubmissions(ctx)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		data := export.Data{
			Submissions: finals,
			ProblemTitle: func(id int) string {
				p, _ := problems.Get(id)
				return p.Title
			},
		}
		if kind == export.KindAnalytics {
			if data.Teams, err = s.ListTeams(ctx); err != nil {
				respondError(w, r, logger, err)
				return
			}
			if data.Violations, err = l.Violations(ctx, "", 0); err != nil {
				respondError(w, r, logger, err)
				return
			}
			if data.ViolationCounts, err = l.Counts(ctx); err != nil {
				respondError(w, r, logger, err)
				return
			}
			if data.Stats, err = s.Stats(ctx, now(), problems.IDs()); err != nil {
				respondError(w, r, logger, err)
				return
			}
		}

		var buf bytes.Buffer
		if err := export.Write(&buf, kind, data); err != nil {
			respondError(w, r, logger, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(kind, now())+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}

type PurgeResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

func handlePurgeSubmissions(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.PurgeSubmissions(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		logger.Info("submissions purged", "deleted", n, "by", sessionFrom(r).Subject)
		writeJSON(w, http.StatusOK, PurgeResponse{Success: true, Deleted: n})
	}
}

type ViolationsResponse struct {
	Success    bool                  `json:"success"`
	Violations []coderelay.Violation `json:"violations"`
}

func handleListViolations(logger *slog.Logger, l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viol, err := l.Violations(r.Context(), r.URL.Query().Get("team"), 0)
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ViolationsResponse{Success: true, Violations: nonNil(viol)})
	}
}

func handleClearViolations(logger *slog.Logger, l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		team := r.URL.Query().Get("team")
		if _, err := l.Clear(r.Context(), team); err != nil {
			respondError(w, r, logger, err)
			return
		}
		msg := "All violations cleared"
		if team != "" {
			msg = "Violations cleared for " + team
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: msg})
	}
}
