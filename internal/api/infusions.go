package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pumplink/pumplink-core/internal/dispatcher"
	"github.com/pumplink/pumplink-core/internal/infusion"
	"github.com/pumplink/pumplink-core/internal/lifecycle"
	"github.com/pumplink/pumplink-core/internal/pump"
)

// startInfusionRequest is the body for POST /api/v1/pumps/{id}/infusions.
type startInfusionRequest struct {
	Parameters infusion.Parameters `json:"parameters"`
	Patient    *infusion.Patient   `json:"patient,omitempty"`
}

// commandRequest is the body for stop and pause commands.
type commandRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleStartInfusion starts an infusion on a pump. A request without a
// patient explicitly starts patient-skipped; that choice is recorded on
// the infusion.
func (s *Server) handleStartInfusion(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req startInfusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.operator.StartInfusion(r.Context(), deviceID, req.Parameters, req.Patient)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleStopInfusion stops the active infusion on a pump.
func (s *Server) handleStopInfusion(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	reason := decodeReason(r)

	result, err := s.operator.StopInfusion(r.Context(), deviceID, reason)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handlePauseInfusion pauses the active infusion on a pump.
func (s *Server) handlePauseInfusion(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	reason := decodeReason(r)

	result, err := s.operator.PauseInfusion(r.Context(), deviceID, reason)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleResumeInfusion resumes a paused infusion on a pump.
func (s *Server) handleResumeInfusion(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	result, err := s.operator.ResumeInfusion(r.Context(), deviceID)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleListInfusions returns a pump's infusion history, newest first.
func (s *Server) handleListInfusions(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	if !s.registry.Exists(r.Context(), deviceID) {
		writeNotFound(w, "pump not found")
		return
	}

	infusions, err := s.infusionRepo.ListByDevice(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("listing infusions failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list infusions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"infusions": infusions,
		"count":     len(infusions),
	})
}

// handleGetInfusion returns one infusion by ID.
func (s *Server) handleGetInfusion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inf, err := s.infusionRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, infusion.ErrInfusionNotFound) {
			writeNotFound(w, "infusion not found")
			return
		}
		s.logger.Error("fetching infusion failed", "infusion_id", id, "error", err)
		writeInternalError(w, "failed to fetch infusion")
		return
	}

	writeJSON(w, http.StatusOK, inf)
}

// writeCommandError maps an operator command failure onto the response.
// The three kinds stay distinguishable for the UI: a rejected command
// (precondition), a command that could not be sent (transport), and
// everything else.
func (s *Server) writeCommandError(w http.ResponseWriter, deviceID string, err error) {
	var transitionErr *lifecycle.InvalidTransitionError

	switch {
	case errors.Is(err, pump.ErrPumpNotFound):
		writeNotFound(w, "pump not found")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, ErrCodeInvalidTransition, transitionErr.Error())
	case errors.Is(err, infusion.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, dispatcher.ErrTransportUnavailable):
		// The durable transition already happened; tell the UI the
		// command itself never reached the device.
		writeError(w, http.StatusServiceUnavailable, ErrCodeTransportUnavail,
			"command accepted but not delivered; transport unavailable")
	default:
		s.logger.Error("operator command failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "command failed")
	}
}

// decodeReason extracts the optional reason from a command body.
// A missing or malformed body is treated as no reason.
func decodeReason(r *http.Request) string {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Reason
}
