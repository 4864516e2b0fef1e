package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dlink-core/internal/device"
)

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeNotFound(w, "discovery is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": s.discovery.Candidates(),
	})
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeNotFound(w, "discovery is disabled")
		return
	}
	candidate, ok := s.discovery.Candidate(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "candidate not found")
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

func (s *Server) handleForgetCandidate(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeNotFound(w, "discovery is disabled")
		return
	}
	s.discovery.Forget(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// identifyRequest is the payload for POST /discovery/identify: probe a
// device at an address without adding it to the fleet.
type identifyRequest struct {
	Address string `json:"address"`
	PIN     string `json:"pin"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeBadRequest(w, "address is required")
		return
	}
	if strings.TrimSpace(req.PIN) == "" {
		writeBadRequest(w, "pin is required")
		return
	}

	identity, err := s.devices.IdentifyAt(r.Context(), req.Address, req.PIN)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// promoteRequest is the payload for POST /discovery/candidates/{id}/promote:
// adopt a discovered candidate into the managed fleet.
type promoteRequest struct {
	PIN            string `json:"pin"`
	Name           string `json:"name"`
	Enabled        *bool  `json:"enabled"`
	PollIntervalMs *int   `json:"poll_interval_ms"`
}

func (s *Server) handlePromoteCandidate(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeNotFound(w, "discovery is disabled")
		return
	}
	candidate, ok := s.discovery.Candidate(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "candidate not found")
		return
	}

	var req promoteRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PIN) == "" {
		writeBadRequest(w, "pin is required")
		return
	}

	identity := device.Identity{
		MAC:            candidate.MAC,
		Address:        candidate.Address,
		PIN:            req.PIN,
		Model:          candidate.Model,
		Name:           req.Name,
		Enabled:        true,
		PollIntervalMs: device.DefaultPollIntervalMs,
	}
	if req.Enabled != nil {
		identity.Enabled = *req.Enabled
	}
	if req.PollIntervalMs != nil {
		identity.PollIntervalMs = *req.PollIntervalMs
	}

	status, err := s.devices.Add(r.Context(), identity)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	s.discovery.Forget(candidate.ID)
	writeJSON(w, http.StatusCreated, status)
}
