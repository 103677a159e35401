package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/locshare-core/internal/audit"
	"github.com/nerrad567/locshare-core/internal/platform"
)

// SetSharingRequest is the body of PUT /sharing.
type SetSharingRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleGetSharing returns the controller status.
func (s *Server) handleGetSharing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sharing.Status())
}

// handleSetSharing is the user toggle.
func (s *Server) handleSetSharing(w http.ResponseWriter, r *http.Request) {
	var req SetSharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "enabled is required")
		return
	}

	if err := s.sharing.SetEnabled(r.Context(), *req.Enabled); err != nil {
		s.logger.Info("sharing toggle refused", "enabled", *req.Enabled, "error", err)
		writeSharingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sharing.Status())
}

// handleRefreshSharing re-evaluates permission and availability. The shell
// calls it whenever the app returns to the foreground.
func (s *Server) handleRefreshSharing(w http.ResponseWriter, r *http.Request) {
	status, err := s.sharing.Refresh(r.Context())
	if err != nil {
		writeSharingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListSharingEvents returns paginated journal entries.
//
// Query parameters:
//   - action: filter by action (enable, disable, forced_disable, reject,
//     start_failed, logout, resume)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListSharingEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "sharing journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action")}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list sharing events", "error", err)
		writeInternalError(w, "failed to list sharing events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleOpenSettings opens the app or location settings page on the
// device, following a rejection's settings link.
func (s *Server) handleOpenSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "settings bridge not configured")
		return
	}

	target := platform.SettingsTarget(chi.URLParam(r, "target"))
	if target != platform.SettingsApp && target != platform.SettingsLocation {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, `target must be "app" or "location"`)
		return
	}

	if err := s.settings.OpenSettings(r.Context(), target); err != nil {
		s.logger.Warn("opening settings failed", "target", target, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "device did not open the settings page")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout tears sharing down for a session end. The daemon's
// session ends with it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sharing.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
	if s.onLogout != nil {
		s.onLogout()
	}
}
