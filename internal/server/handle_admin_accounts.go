package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/store"
)

type AdminsResponse struct {
	Success bool              `json:"success"`
	Admins  []store.AdminInfo `json:"admins"`
}

// ManageAdminRequest adds or removes an admin account.
type ManageAdminRequest struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

func handleListAdmins(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admins, err := s.ListAdmins(r.Context())
		if err != nil {
			respondError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AdminsResponse{Success: true, Admins: admins})
	}
}

func handleManageAdmins(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ManageAdminRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Action == "" || req.Username == "" {
			writeError(w, http.StatusBadRequest, "Action and username required")
			return
		}

		switch req.Action {
		case "add":
			if err := addAdmin(r, s, req.Username, req.Password); err != nil {
				respondError(w, r, logger, err)
				return
			}
			logger.Info("admin added", "admin", req.Username, "by", sessionFrom(r).Subject)
			writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: `Admin "` + req.Username + `" created successfully`})
		case "remove":
			removeAdmin(w, r, logger, s, req.Username)
		default:
			writeError(w, http.StatusBadRequest, "Invalid action. Use 'add' or 'remove'")
		}
	}
}

func addAdmin(r *http.Request, s *store.Store, username, password string) error {
	if password == "" {
		return coderelay.Validation("Password required for new admin")
	}
	if err := coderelay.ValidateAdminCredentials(username, password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.CreateTeam(r.Context(), store.NewTeam{Name: username, PasswordHash: hash, IsAdmin: true})
}

// handleRemoveAdmin serves DELETE with the username as a query parameter.
func handleRemoveAdmin(logger *slog.Logger, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			writeError(w, http.StatusBadRequest, "username query parameter required")
			return
		}
		removeAdmin(w, r, logger, s, username)
	}
}

func removeAdmin(w http.ResponseWriter, r *http.Request, logger *slog.Logger, s *store.Store, username string) {
	if err := s.RemoveAdmin(r.Context(), username); err != nil {
		respondError(w, r, logger, err)
		return
	}
	logger.Info("admin removed", "admin", username, "by", sessionFrom(r).Subject)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: `Admin "` + username + `" removed successfully`})
}
