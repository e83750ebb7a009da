package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component health probe.
const healthCheckTimeout = 5 * time.Second

// handleHealth returns overall service health plus per-component detail.
// The response is 200 when every component passes and 503 otherwise, so
// the endpoint can back a load balancer or container health probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	healthy := true

	for name, check := range s.checks {
		if check == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()

		if err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}

// handleListEntries returns the configured entries with load state.
func (s *Server) handleListEntries(w http.ResponseWriter, _ *http.Request) {
	statuses := s.status.EntryStatuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": statuses,
		"count":   len(statuses),
	})
}

// handleListTiles returns per-tile polling status for one entry.
func (s *Server) handleListTiles(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	tiles, loaded := s.status.TileStatuses(entryID)
	if !loaded {
		writeNotFound(w, "entry not loaded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tiles": tiles,
		"count": len(tiles),
	})
}

// trackerResponse describes one live tracker for the trackers endpoint.
type trackerResponse struct {
	EntityID  string `json:"entity_id"`
	UniqueID  string `json:"unique_id"`
	TileUUID  string `json:"tile_uuid"`
	Available bool   `json:"available"`
}

// handleListTrackers returns the live trackers for one entry.
func (s *Server) handleListTrackers(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	if s.tracker == nil {
		writeNotFound(w, "tracker platform not running")
		return
	}

	loaded := false
	for _, st := range s.status.EntryStatuses() {
		if st.ID == entryID {
			loaded = st.Loaded
			break
		}
	}
	if !loaded {
		writeNotFound(w, "entry not loaded")
		return
	}

	trackers := s.tracker.Trackers(entryID)
	out := make([]trackerResponse, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, trackerResponse{
			EntityID:  t.EntityID(),
			UniqueID:  t.UniqueID(),
			TileUUID:  t.TileUUID(),
			Available: t.Available(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trackers": out,
		"count":    len(out),
	})
}
