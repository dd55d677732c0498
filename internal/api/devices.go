package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// DeviceView is the API representation of a device.
type DeviceView struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	State       device.ConnectionState `json:"state"`
	Saved       bool                   `json:"saved"`
	RSSI        *int16                 `json:"rssi,omitempty"`
	LastSeen    *time.Time             `json:"last_seen,omitempty"`
	Services    []device.Service       `json:"services,omitempty"`
}

// ConnectRequest is the optional body of POST /devices/{id}/connect.
type ConnectRequest struct {
	Name string `json:"name"`
}

// deviceView builds the API view of d from the registry and scanner.
func (s *Server) deviceView(d device.Device, withServices bool) DeviceView {
	registry := s.ble.Registry()
	view := DeviceView{
		ID:          d.ID,
		Name:        d.Name,
		DisplayName: d.DisplayName(),
		State:       registry.State(d.ID),
		Saved:       registry.IsSaved(d.ID),
	}
	if sighting, ok := s.ble.Sighting(d.ID); ok {
		rssi := sighting.RSSI
		seen := sighting.LastSeen
		view.RSSI = &rssi
		view.LastSeen = &seen
	}
	if withServices {
		if services, err := registry.Services(d.ID); err == nil {
			view.Services = services
		}
	}
	return view
}

func (s *Server) deviceViews(devices []device.Device) []DeviceView {
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.deviceView(d, false))
	}
	return views
}

// handleListConnected returns the devices with a live link.
func (s *Server) handleListConnected(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews(s.ble.Registry().Connected())
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleListSaved returns the persisted saved-device list.
func (s *Server) handleListSaved(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews(s.ble.Registry().Saved())
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns one device known to this session, including the
// service inventory when it is connected.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	d, found := s.findDevice(id)
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(d, true))
}

// handleConnect links to a device. The body may carry a display name for
// devices that were never discovered in this session.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := device.Device{ID: id, Name: req.Name}
	if err := device.ValidateName(d.Name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	outcome, err := s.ble.Connect(r.Context(), d)
	s.auditLog(r, audit.ActionConnect, id, err, map[string]any{"outcome": string(outcome)})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"outcome":   outcome,
		"notice":    outcome.Notice(),
	})
}

// handleDisconnect drops the link to a device.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	err := s.ble.Disconnect(r.Context(), id)
	s.auditLog(r, audit.ActionDisconnect, id, err, nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"status":    device.StateDisconnected,
	})
}

// handleDisconnectAll drops every link.
func (s *Server) handleDisconnectAll(w http.ResponseWriter, r *http.Request) {
	err := s.ble.DisconnectAll(r.Context())
	s.auditLog(r, audit.ActionDisconnectAll, "", err, nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "disconnected",
		"connected": len(s.ble.Registry().Connected()),
	})
}

// findDevice looks id up in the connected, discovered and saved sets, in
// that order.
func (s *Server) findDevice(id string) (device.Device, bool) {
	registry := s.ble.Registry()
	if d, err := registry.ConnectedDevice(id); err == nil {
		return d, true
	}
	for _, d := range registry.Discovered() {
		if d.ID == id {
			return d, true
		}
	}
	for _, d := range registry.Saved() {
		if d.ID == id {
			return d, true
		}
	}
	return device.Device{}, false
}

// deviceIDParam normalises and validates the {id} URL parameter, writing a
// 400 response when it is unusable.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := device.NormalizeID(chi.URLParam(r, "id"))
	if err := device.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return "", false
	}
	return id, true
}
