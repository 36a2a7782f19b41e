package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/handler/health"
	"github.com/binarybattles/coderelay/internal/judge"
)

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	errors                             []int
}

var operations = []operation{
	{http.MethodGet, "/healthz", "Health check", "Returns the health status of backend dependencies.",
		nil, health.Report{}, []int{http.StatusServiceUnavailable}},

	{http.MethodPost, "/api/login", "Log in",
		"Registration logins resolve a member id without a password. Password logins resolve a team or admin account. Sets the session cookie.",
		LoginRequest{}, LoginResponse{}, []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests}},
	{http.MethodPost, "/api/logout", "Log out", "Revokes the session and clears the cookie.",
		nil, SuccessResponse{}, nil},
	{http.MethodGet, "/api/session", "Current session", "Returns the session user, or null.",
		nil, SessionResponse{}, nil},
	{http.MethodPost, "/api/session/validate", "Validate session",
		"Checks the echoed session id and the page path. A failed check revokes the session.",
		ValidateRequest{}, ValidateResponse{}, nil},
	{http.MethodGet, "/api/competition", "Competition clock", "Returns the competition window and whether it is active.",
		nil, CompetitionView{}, nil},
	{http.MethodGet, "/api/events", "Leaderboard stream", "Server-Sent Events carrying the leaderboard whenever it changes.",
		nil, nil, nil},

	{http.MethodGet, "/api/team", "Team state", "Score, solved and failed problems, problem list and leaderboard. Banned or deleted teams are logged out.",
		nil, TeamResponse{}, []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}},
	{http.MethodGet, "/api/relay", "Relay state", "Returns the team's relay turn, transitioning it first when the deadline has passed.",
		nil, RelayResponse{}, []int{http.StatusUnauthorized, http.StatusForbidden}},
	{http.MethodPost, "/api/relay", "Write shared code", "Only the active editor may write.",
		RelayWriteRequest{}, SuccessResponse{}, []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}},
	{http.MethodPost, "/api/submit", "Submit code",
		"Autosaves are stored without grading. Final submissions are graded, may lock the team's problem and are rejected with 403 for a different locked problem.",
		SubmitRequest{}, SubmitResponse{}, []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway}},
	{http.MethodPost, "/api/run-tests", "Run tests", "Runs code against every test case. Hidden cases are masked.",
		RunTestsRequest{}, RunTestsResponse{}, []int{http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway}},
	{http.MethodPost, "/api/compile", "Compile and run", "Runs code once with the given stdin.",
		CompileRequest{}, judge.Result{}, []int{http.StatusForbidden, http.StatusBadGateway}},
	{http.MethodPost, "/api/violations", "Report violation", "Appends an anti-cheat event for the caller's team.",
		ViolationRequest{}, ViolationResponse{}, []int{http.StatusBadRequest, http.StatusUnauthorized}},

	{http.MethodGet, "/api/violations", "List violations", "Admin only. Filter with ?team=.",
		nil, ViolationsResponse{}, []int{http.StatusForbidden}},
	{http.MethodDelete, "/api/violations", "Clear violations", "Admin only. Clears one team with ?team=, otherwise all.",
		nil, SuccessResponse{}, []int{http.StatusForbidden}},
	{http.MethodGet, "/api/stats", "Competition statistics", "Admin only.",
		nil, coderelay.Stats{}, []int{http.StatusForbidden}},
	{http.MethodGet, "/api/admin", "Admin dashboard", "Teams, final submissions, competition, leaderboard, violations and stats.",
		nil, DashboardResponse{}, []int{http.StatusUnauthorized, http.StatusForbidden}},
	{http.MethodGet, "/api/admin/live", "Admin live feed", "WebSocket carrying dashboard snapshots whenever they change.",
		nil, nil, nil},
	{http.MethodPost, "/api/admin/add-team", "Add team", "Normalizes the team name and creates the team with its members.",
		TeamRequest{}, TeamCreatedResponse{}, []int{http.StatusBadRequest, http.StatusConflict}},
	{http.MethodPost, "/api/admin/update-team", "Replace team members", "Deletes every member and inserts the given list.",
		TeamRequest{}, SuccessResponse{}, []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict}},
	{http.MethodPost, "/api/admin/delete-team", "Delete team", "Deletes a team and everything it owns.",
		TeamNameRequest{}, SuccessResponse{}, []int{http.StatusNotFound}},
	{http.MethodPost, "/api/admin/ban-team", "Ban or unban team", "Action ban or unban; any other value toggles.",
		BanRequest{}, SuccessResponse{}, []int{http.StatusNotFound, http.StatusConflict}},
	{http.MethodPost, "/api/admin/start-competition", "Start competition", "Starts the clock and initializes a relay for every eligible team.",
		StartCompetitionRequest{}, StartCompetitionResponse{}, []int{http.StatusBadRequest}},
	{http.MethodPost, "/api/admin/stop-competition", "Stop competition", "Clears the clock and all live relay state.",
		nil, SuccessResponse{}, nil},
	{http.MethodPost, "/api/admin/relay-duration", "Set relay duration", "Applies to turns that start after the change.",
		RelayDurationRequest{}, SuccessResponse{}, []int{http.StatusBadRequest}},
	{http.MethodGet, "/api/admin/relay-turns", "Relay turn archive", "Archived turns of ?team=, oldest first.",
		nil, RelayTurnsResponse{}, []int{http.StatusBadRequest}},
	{http.MethodGet, "/api/admin/download-submissions", "Export submissions", "XLSX workbook; ?type=report|analytics.",
		nil, nil, []int{http.StatusBadRequest}},
	{http.MethodDelete, "/api/admin/submissions", "Purge submissions", "Deletes every submission row.",
		nil, PurgeResponse{}, nil},
	{http.MethodGet, "/api/admin/manage-admins", "List admins", "Master admin only.",
		nil, AdminsResponse{}, []int{http.StatusForbidden}},
	{http.MethodPost, "/api/admin/manage-admins", "Add or remove admin", "Master admin only. Action add or remove.",
		ManageAdminRequest{}, SuccessResponse{}, []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict}},
	{http.MethodDelete, "/api/admin/manage-admins", "Remove admin", "Master admin only. ?username= names the admin.",
		nil, SuccessResponse{}, []int{http.StatusForbidden, http.StatusNotFound}},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Code Relay API"
	r.Spec.Info.Version = "1.0.0"
	r.Spec.Info.WithDescription("Backend API for the Code Relay competition server.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		switch {
		case op.path == "/api/events":
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK), openapi.WithContentType("text/event-stream"))
		case op.path == "/api/admin/live":
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols), openapi.WithContentType("application/json"))
		case op.path == "/api/admin/download-submissions":
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK), openapi.WithContentType(xlsxContentType))
		default:
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(http.StatusOK))
		}
		for _, status := range op.errors {
			if op.path == "/healthz" {
				oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(status))
				continue
			}
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}
	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
