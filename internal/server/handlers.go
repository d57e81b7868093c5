package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/assets"
	"github.com/woozymasta/outpost/internal/models"
	"github.com/woozymasta/outpost/internal/vars"
)

// handleGetServerData returns the state document, 404 until it was created.
func (s *Server) handleGetServerData(w http.ResponseWriter, r *http.Request) {
	m, err := s.state.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to load server data")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Server data not found")
		return
	}

	writeJSON(w, r, http.StatusOK, m)
}

// handleUpdateServerData merges the request body into the state document.
func (s *Server) handleUpdateServerData(w http.ResponseWriter, r *http.Request) {
	var patch models.MetricsPatch
	if err := s.decodeJSON(w, r, &patch); err != nil {
		writeDecodeError(w, err)
		return
	}

	m, err := s.state.Update(r.Context(), &patch)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update server data")
		return
	}

	writeJSON(w, r, http.StatusOK, m)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.state.Start, "Failed to start server")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.state.Stop, "Failed to stop server")
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.state.RequestBackup, "Failed to request backup")
}

// control runs a body-less state action and returns the refreshed document.
func (s *Server) control(
	w http.ResponseWriter,
	r *http.Request,
	action func(context.Context) (*models.ServerMetrics, error),
	failMsg string,
) {
	m, err := action(r.Context())
	if err != nil {
		writeServiceError(w, r, err, failMsg)
		return
	}

	writeJSON(w, r, http.StatusOK, m)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := s.locations.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to load important locations")
		return
	}

	writeJSON(w, r, http.StatusOK, locs)
}

func (s *Server) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	var req models.LocationRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	loc, err := s.locations.Add(r.Context(), req.Discovery, req.Coordinates, req.IsOwnTerritory)
	if err != nil {
		writeServiceError(w, r, err, "Failed to add important location")
		return
	}

	writeJSON(w, r, http.StatusOK, loc)
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Build  vars.BuildInfo `json:"build"`
}

// handleHealth pings the store and reports build info.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status: "unavailable",
			Error:  "database unreachable",
			Build:  vars.Info(),
		})
		return
	}

	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Build: vars.Info()})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, vars.Info())
}

// handleMapImage serves the configured map image or the embedded placeholder.
func (s *Server) handleMapImage(w http.ResponseWriter, r *http.Request) {
	if s.mapImage != "" {
		http.ServeFile(w, r, s.mapImage)
		return
	}

	content, err := assets.ReadFile("img/server-map.svg")
	if err != nil {
		log.Error().Err(err).Msg("Embedded map image missing")
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(content)
}
