package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/locshare-core/internal/proximity"
)

// ProximityResponse is the body of GET /proximity.
type ProximityResponse struct {
	proximity.Snapshot
	Radii []int `json:"radii_m"`
}

// SetRadiusRequest is the body of PUT /proximity/radius.
type SetRadiusRequest struct {
	Meters int `json:"meters"`
}

// handleGetProximity returns the nearby-users snapshot and the selectable
// radii.
func (s *Server) handleGetProximity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProximityResponse{
		Snapshot: s.proximity.Snapshot(),
		Radii:    s.proximity.Radii(),
	})
}

// handleSetRadius changes the search radius and persists the selection.
// A persistence failure is logged; the selection still applies.
func (s *Server) handleSetRadius(w http.ResponseWriter, r *http.Request) {
	var req SetRadiusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.proximity.SetRadius(req.Meters); err != nil {
		if errors.Is(err, proximity.ErrInvalidRadius) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "meters must be one of the selectable radii")
			return
		}
		writeInternalError(w, "failed to set radius")
		return
	}

	if s.radius != nil {
		if err := s.radius.SaveRadius(r.Context(), req.Meters); err != nil {
			s.logger.Warn("persisting radius selection failed", "radius_m", req.Meters, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, ProximityResponse{
		Snapshot: s.proximity.Snapshot(),
		Radii:    s.proximity.Radii(),
	})
}
