package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
)

// addRoutes wires every endpoint. Gameplay requests pass the session,
// team-only, ban and competition-window checks in that order.
func addRoutes(r chi.Router, d *Deps) {
	logger := d.Logger
	problems := d.Grader.Problems()
	session := requireSession(logger, d.Auth)
	banned := rejectBanned(logger, d.Ledger, d.Auth, d.SecureCookies)
	active := requireActive(logger, d.Clock)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Code Relay API", "/openapi.json", "/docs"))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(noStore)

		// Public.
		r.Post("/login", handleLogin(logger, d.Auth, d.SecureCookies))
		r.Post("/logout", handleLogout(logger, d.Auth, d.SecureCookies))
		r.Get("/session", handleSession(d.Auth))
		r.Post("/session/validate", handleValidateSession(logger, d.Auth, d.SecureCookies))
		r.Get("/competition", handleCompetition(logger, d.Clock))
		r.Get("/events", handleEvents(d.Broker, d.Feed))

		// Team.
		r.Group(func(r chi.Router) {
			r.Use(session, requireTeam, banned)
			r.Get("/team", handleTeam(logger, d.Store, d.Auth, d.Clock, problems, d.SecureCookies))
			r.Get("/relay", handleRelayState(logger, d.Store, d.Clock, d.Relays))
			r.Post("/violations", handleReportViolation(logger, d.Ledger))

			r.Group(func(r chi.Router) {
				r.Use(active)
				r.Post("/relay", handleRelayWrite(logger, d.Relays))
				r.Post("/submit", handleSubmit(logger, d.Relays, d.Scoring, d.Grader))
				r.Post("/run-tests", handleRunTests(logger, d.Relays, d.Grader))
				r.Post("/compile", handleCompile(logger, d.Relays, d.Grader))
			})
		})

		// Admin.
		r.Group(func(r chi.Router) {
			r.Use(session, requireAdmin)
			r.Get("/violations", handleListViolations(logger, d.Ledger))
			r.Delete("/violations", handleClearViolations(logger, d.Ledger))
			r.Get("/stats", handleStats(logger, d.Now, d.Store, problems))

			r.Route("/admin", func(r chi.Router) {
				r.Get("/", handleDashboard(logger, d.Now, d.Store, d.Clock, d.Ledger, d.Scoring, problems))
				r.Get("/live", handleAdminLive(logger, d.Broker, d.Feed))
				r.Post("/add-team", handleAddTeam(logger, d.Store))
				r.Post("/update-team", handleUpdateTeam(logger, d.Store))
				r.Post("/delete-team", handleDeleteTeam(logger, d.Store))
				r.Post("/ban-team", handleBanTeam(logger, d.Ledger))
				r.Post("/start-competition", handleStartCompetition(logger, d.Clock, d.DefaultRelayMinutes))
				r.Post("/stop-competition", handleStopCompetition(logger, d.Clock))
				r.Post("/relay-duration", handleSetRelayDuration(logger, d.Clock))
				r.Get("/relay-turns", handleRelayTurns(logger, d.Store))
				r.Get("/download-submissions", handleDownloadSubmissions(logger, d.Now, d.Store, d.Scoring, d.Ledger, problems))
				r.Delete("/submissions", handlePurgeSubmissions(logger, d.Store))

				r.Group(func(r chi.Router) {
					r.Use(requireMasterAdmin)
					r.Get("/manage-admins", handleListAdmins(logger, d.Store))
					r.Post("/manage-admins", handleManageAdmins(logger, d.Store))
					r.Delete("/manage-admins", handleRemoveAdmin(logger, d.Store))
				})
			})
		})
	})
}
