package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/relay"
	"github.com/binarybattles/coderelay/internal/scoring"
)

type SubmitRequest struct {
	ProblemID   int    `json:"problemId"`
	Code        string `json:"code"`
	Language    string `json:"language"`
	AutoSave    bool   `json:"autoSave"`
	LockProblem bool   `json:"lockProblem"`
}

type SubmitResponse struct {
	Success  bool          `json:"success"`
	AutoSave bool          `json:"autoSave,omitempty"`
	Result   *judge.Report `json:"result,omitempty"`
}

type RunTestsRequest struct {
	ProblemID int    `json:"problemId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type RunTestsResponse struct {
	Success     bool               `json:"success"`
	Results     []judge.CaseResult `json:"results"`
	TestsPassed int                `json:"testsPassed"`
	TotalTests  int                `json:"totalTests"`
}

type CompileRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin"`
}

func language(lang string) string {
	if lang == "" {
		return relay.DefaultLanguage
	}
	return lang
}

// respondExecError reports failures of the execution service as 502 and
// everything else by kind.
func respondExecError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if statusFor(err) != http.StatusInternalServerError {
		respondError(w, r, logger, err)
		return
	}
	logger.Error("execution service", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusBadGateway, "Execution service unavailable")
}

// handleSubmit stores autosaves and grades final submissions. Final
// submissions need the relay editor; a conflicting problem lock is 403 and
// an unreachable executor is 502.
func handleSubmit(logger *slog.Logger, relays *relay.Engine, svc *scoring.Service, grader *judge.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if _, err := grader.Problem(req.ProblemID); err != nil {
			respondError(w, r, logger, err)
			return
		}
		sess := sessionFrom(r)

		if !req.AutoSave {
			if _, err := relays.RequireEditor(r.Context(), sess.Subject, sess.MemberID); err != nil {
				respondError(w, r, logger, err)
				return
			}
		}

		out, err := svc.Submit(r.Context(), scoring.Submission{
			TeamName:    sess.Subject,
			ProblemID:   req.ProblemID,
			Code:        req.Code,
			Language:    language(req.Language),
			Autosave:    req.AutoSave,
			LockIfFirst: req.LockProblem,
		})
		if errors.Is(err, coderelay.ErrConflict) {
			writeError(w, http.StatusForbidden, coderelay.Message(err, "Problem locked"))
			return
		}
		if errors.Is(err, scoring.ErrGrading) {
			respondExecError(w, r, logger, err)
			return
		}
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		if out.Autosave {
			writeJSON(w, http.StatusOK, SubmitResponse{Success: true, AutoSave: true})
			return
		}
		writeJSON(w, http.StatusOK, SubmitResponse{Success: true, Result: out.Report})
	}
}

func handleRunTests(logger *slog.Logger, relays *relay.Engine, grader *judge.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunTestsRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess := sessionFrom(r)
		if _, err := relays.RequireEditor(r.Context(), sess.Subject, sess.MemberID); err != nil {
			respondError(w, r, logger, err)
			return
		}

		results, err := grader.RunTests(r.Context(), req.ProblemID, req.Code, language(req.Language))
		if err != nil {
			respondExecError(w, r, logger, err)
			return
		}
		resp := RunTestsResponse{Success: true, Results: results, TotalTests: len(results)}
		for _, c := range results {
			if c.Passed {
				resp.TestsPassed++
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCompile(logger *slog.Logger, relays *relay.Engine, grader *judge.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompileRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess := sessionFrom(r)
		if _, err := relays.RequireEditor(r.Context(), sess.Subject, sess.MemberID); err != nil {
			respondError(w, r, logger, err)
			return
		}

		res, err := grader.Compile(r.Context(), req.Code, language(req.Language), req.Stdin)
		if err != nil {
			respondExecError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
