package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ventoline/smartac-core/internal/audit"
	"github.com/ventoline/smartac-core/internal/device"
	"github.com/ventoline/smartac-core/internal/dispatcher"
)

// registerRequest is the body for POST /devices. Credentials are accepted
// here but never serialized back out on device responses.
type registerRequest struct {
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	Room         string `json:"room"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	WifiSSID     string `json:"wifi_ssid"`
	WifiPassword string `json:"wifi_password"`
}

// updateRequest is the body for PATCH /devices/{id}. Nil fields are left
// untouched; only user-authored metadata and credentials are editable here.
type updateRequest struct {
	Name         *string `json:"name"`
	Room         *string `json:"room"`
	Brand        *string `json:"brand"`
	Model        *string `json:"model"`
	WifiSSID     *string `json:"wifi_ssid"`
	WifiPassword *string `json:"wifi_password"`
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - online: filter by reachability (true/false)
//   - registered: filter by registration state (true/false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if onlineStr := r.URL.Query().Get("online"); onlineStr != "" {
		online, err := strconv.ParseBool(onlineStr)
		if err != nil {
			writeBadRequest(w, "invalid online filter, expected true or false")
			return
		}
		devices, listErr := s.registry.ListByOnline(ctx, online)
		if listErr != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if registeredStr := r.URL.Query().Get("registered"); registeredStr != "" {
		registered, err := strconv.ParseBool(registeredStr)
		if err != nil {
			writeBadRequest(w, "invalid registered filter, expected true or false")
			return
		}
		devices, listErr := s.registry.ListByRegistered(ctx, registered)
		if listErr != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.registry.List(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by external ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleRegisterDevice registers a device from operator input. When Wi-Fi
// credentials are included, provisioning runs inline: the unit is sent its
// network configuration before the response is written.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		ExternalID:   req.ExternalID,
		Name:         req.Name,
		Room:         req.Room,
		Brand:        device.Brand(req.Brand),
		Model:        req.Model,
		WifiSSID:     req.WifiSSID,
		WifiPassword: req.WifiPassword,
	}

	registered, err := s.dispatcher.Register(r.Context(), dev)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrValidation):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "device already registered")
		return
	case errors.Is(err, dispatcher.ErrTransportUnavailable):
		// Registered but unprovisioned. The record exists; the operator
		// can replay credentials via /reconfigure once the broker is back.
		s.recordAudit(r.Context(), audit.ActionRegister, registered.ExternalID, map[string]any{
			"provisioned": false,
		})
		writeJSON(w, http.StatusCreated, registered)
		return
	default:
		writeInternalError(w, "failed to register device")
		return
	}

	// Provisioning updates the stored record, not the struct in hand.
	if fresh, getErr := s.registry.Get(r.Context(), registered.ExternalID); getErr == nil {
		registered = fresh
	}

	s.recordAudit(r.Context(), audit.ActionRegister, registered.ExternalID, map[string]any{
		"provisioned": registered.IsProvisioned,
	})
	writeJSON(w, http.StatusCreated, registered)
}

// handleUpdateDevice partially updates a device's user-authored metadata.
// Credential changes route through the dispatcher: the updated wifi_config
// payload is delivered to the unit, not just stored.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Room != nil {
		existing.Room = *req.Room
	}
	if req.Brand != nil {
		existing.Brand = device.Brand(*req.Brand)
	}
	if req.Model != nil {
		existing.Model = *req.Model
	}
	credentialsChanged := false
	if req.WifiSSID != nil && existing.WifiSSID != *req.WifiSSID {
		existing.WifiSSID = *req.WifiSSID
		credentialsChanged = true
	}
	if req.WifiPassword != nil && existing.WifiPassword != *req.WifiPassword {
		existing.WifiPassword = *req.WifiPassword
		credentialsChanged = true
	}

	if err := s.registry.Update(r.Context(), existing); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	var details map[string]any
	if credentialsChanged && existing.WifiSSID != "" {
		provisioned := true
		if provErr := s.dispatcher.Provision(r.Context(), id); provErr != nil {
			if !errors.Is(provErr, dispatcher.ErrTransportUnavailable) {
				writeInternalError(w, "failed to deliver credentials")
				return
			}
			// Credentials are stored; /reconfigure replays them once
			// the broker is back.
			s.logger.Warn("credential delivery failed after update",
				"external_id", id, "error", provErr)
			provisioned = false
		}
		details = map[string]any{"provisioned": provisioned}
		if fresh, getErr := s.registry.Get(r.Context(), id); getErr == nil {
			existing = fresh
		}
	}

	s.recordAudit(r.Context(), audit.ActionUpdate, id, details)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device by external ID.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleControlDevice records operator intent and publishes a full-state
// command to the unit.
//
// A broker outage after the registry write returns 503 with the recorded
// intent in the body: the desired state is kept and the unit catches up
// on its next reconnect or the next successful dispatch.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req dispatcher.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.dispatcher.Dispatch(r.Context(), id, req)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrValidation):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, dispatcher.ErrTransportUnavailable):
		s.recordAudit(r.Context(), audit.ActionCommand, id, map[string]any{
			"delivered": false,
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  Error{Status: http.StatusServiceUnavailable, Code: ErrCodeUnavailable, Message: "command recorded but not delivered"},
			"device": dev,
		})
		return
	default:
		writeInternalError(w, "failed to dispatch command")
		return
	}

	s.recordAudit(r.Context(), audit.ActionCommand, id, map[string]any{
		"power":       dev.Power,
		"temperature": dev.Temperature,
		"mode":        dev.Mode,
	})
	writeJSON(w, http.StatusOK, dev)
}

// handleReconfigureDevice replays the provisioning payload for a unit
// that never applied its credentials or was factory reset.
func (s *Server) handleReconfigureDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.dispatcher.Reconfigure(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrValidation):
		writeBadRequest(w, "device has no stored credentials")
		return
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, dispatcher.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "credential delivery failed")
		return
	default:
		writeInternalError(w, "failed to reconfigure device")
		return
	}

	s.recordAudit(r.Context(), audit.ActionReconfigure, id, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "credentials sent"})
}

// handleListAudit returns the audit trail, newest first.
//
// Query parameters:
//   - action: filter by action (register, command, ...)
//   - device: filter by external ID
//   - limit, offset: pagination
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeJSON(w, http.StatusOK, &audit.ListResult{Logs: []audit.AuditLog{}})
		return
	}

	filter := audit.Filter{
		Action:     r.URL.Query().Get("action"),
		ExternalID: r.URL.Query().Get("device"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordAudit writes an audit entry, logging rather than failing the
// request if the write does not succeed.
func (s *Server) recordAudit(ctx context.Context, action, externalID string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     action,
		ExternalID: externalID,
		Source:     "api",
		Details:    details,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", "action", action, "external_id", externalID, "error", err)
	}
}

// isValidationError reports whether err is one of the device validation
// sentinels that should surface as a 400.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidExternalID) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidMode) ||
		errors.Is(err, device.ErrInvalidTemperature)
}
