package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pumplink/pumplink-core/internal/pump"
)

// registerPumpRequest is the body for POST /api/v1/pumps.
type registerPumpRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// handleListPumps returns all registered pumps.
func (s *Server) handleListPumps(w http.ResponseWriter, r *http.Request) {
	pumps, err := s.registry.ListPumps(r.Context())
	if err != nil {
		s.logger.Error("listing pumps failed", "error", err)
		writeInternalError(w, "failed to list pumps")
		return
	}

	// Status filter, e.g. ?status=running
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]pump.Pump, 0, len(pumps))
		for _, p := range pumps {
			if string(p.Status) == status {
				filtered = append(filtered, p)
			}
		}
		pumps = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pumps": pumps,
		"count": len(pumps),
	})
}

// handleRegisterPump registers a new pump.
func (s *Server) handleRegisterPump(w http.ResponseWriter, r *http.Request) {
	var req registerPumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	p := &pump.Pump{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
	}
	if err := s.registry.CreatePump(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, pump.ErrPumpExists):
			writeConflict(w, "pump already registered")
		case errors.Is(err, pump.ErrInvalidPump),
			errors.Is(err, pump.ErrInvalidName),
			errors.Is(err, pump.ErrInvalidID):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("registering pump failed", "error", err)
			writeInternalError(w, "failed to register pump")
		}
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// handleGetPump returns one pump by ID.
func (s *Server) handleGetPump(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.registry.GetPump(r.Context(), id)
	if err != nil {
		if errors.Is(err, pump.ErrPumpNotFound) {
			writeNotFound(w, "pump not found")
			return
		}
		s.logger.Error("fetching pump failed", "pump_id", id, "error", err)
		writeInternalError(w, "failed to fetch pump")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleDeletePump removes a pump from the registry.
func (s *Server) handleDeletePump(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.registry.GetPump(r.Context(), id)
	if err != nil {
		if errors.Is(err, pump.ErrPumpNotFound) {
			writeNotFound(w, "pump not found")
			return
		}
		s.logger.Error("fetching pump failed", "pump_id", id, "error", err)
		writeInternalError(w, "failed to fetch pump")
		return
	}
	if p.IsInfusing() {
		writeConflict(w, "pump has an active infusion")
		return
	}

	if err := s.registry.DeletePump(r.Context(), id); err != nil {
		s.logger.Error("deleting pump failed", "pump_id", id, "error", err)
		writeInternalError(w, "failed to delete pump")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handlePumpStats returns aggregate pump counts.
func (s *Server) handlePumpStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleLiveDevices returns the devices currently reporting as present.
func (s *Server) handleLiveDevices(w http.ResponseWriter, _ *http.Request) {
	live := s.broker.LiveDevices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": live,
		"count":   len(live),
	})
}

// handleGetSnapshot returns the retained telemetry snapshot for a pump.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.registry.Exists(r.Context(), id) {
		writeNotFound(w, "pump not found")
		return
	}

	writeJSON(w, http.StatusOK, s.broker.GetSnapshot(id))
}
