package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dlink-core/internal/device"
)

// createDeviceRequest is the payload for POST /devices.
type createDeviceRequest struct {
	Address        string `json:"address"`
	PIN            string `json:"pin"`
	MAC            string `json:"mac"`
	Model          string `json:"model"`
	Name           string `json:"name"`
	Enabled        *bool  `json:"enabled"`
	PollIntervalMs *int   `json:"poll_interval_ms"`
	UseWebsocket   bool   `json:"use_websocket"`
}

// updateDeviceRequest is the payload for PATCH /devices/{id}. All
// fields are optional; absent fields keep their stored value.
type updateDeviceRequest struct {
	Address        *string `json:"address"`
	PIN            *string `json:"pin"`
	Name           *string `json:"name"`
	Enabled        *bool   `json:"enabled"`
	PollIntervalMs *int    `json:"poll_interval_ms"`
	UseWebsocket   *bool   `json:"use_websocket"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.devices.List(),
	})
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
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

	identity := device.Identity{
		Address:        req.Address,
		PIN:            req.PIN,
		MAC:            req.MAC,
		Model:          req.Model,
		Name:           req.Name,
		Enabled:        true,
		PollIntervalMs: device.DefaultPollIntervalMs,
		UseWebsocket:   req.UseWebsocket,
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
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	status, err := s.devices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	current, err := s.devices.Get(id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	var req updateDeviceRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	identity := current.Identity
	if req.Address != nil {
		identity.Address = *req.Address
	}
	if req.PIN != nil {
		identity.PIN = *req.PIN
	}
	if req.Name != nil {
		identity.Name = *req.Name
	}
	if req.Enabled != nil {
		identity.Enabled = *req.Enabled
	}
	if req.PollIntervalMs != nil {
		identity.PollIntervalMs = *req.PollIntervalMs
	}
	if req.UseWebsocket != nil {
		identity.UseWebsocket = *req.UseWebsocket
	}
	if identity.Address == "" {
		writeBadRequest(w, "address cannot be empty")
		return
	}

	status, err := s.devices.Update(r.Context(), identity)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDeviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.devices.Get(id); err != nil {
		writeDeviceError(w, err)
		return
	}
	var states map[string]any
	if s.states != nil {
		states = s.states.States(id)
	}
	if states == nil {
		states = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"state":     states,
	})
}

// commandRequest is the payload for POST /devices/{id}/command/{key}.
type commandRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	var req commandRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.HandleCommand(r.Context(), id, key, req.Payload); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"key":       key,
		"accepted":  true,
	})
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
