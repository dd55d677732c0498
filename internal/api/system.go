package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/ble"
)

// handleHealth reports liveness and whether the radio is usable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.ble.Registry().AdapterState()

	body := map[string]any{
		"status":        "ok",
		"version":       s.version,
		"adapter_state": state,
	}
	if !state.Usable() {
		body["status"] = "degraded"
		body["reason"] = ble.NoticeBluetoothOff
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetAdapter returns the radio power state and scan ownership.
func (s *Server) handleGetAdapter(w http.ResponseWriter, _ *http.Request) {
	registry := s.ble.Registry()
	state := registry.AdapterState()

	writeJSON(w, http.StatusOK, map[string]any{
		"state":       state,
		"usable":      state.Usable(),
		"scanning":    registry.Scanning(),
		"scan_owners": s.ble.ScanOwners(),
		"connecting":  registry.Connecting(),
	})
}

// handleGetAutoPair reports whether an auto-pairing round is running.
func (s *Server) handleGetAutoPair(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auto_pairing": s.ble.Registry().AutoPairing(),
	})
}

// handleToggleAutoPair starts or ends an auto-pairing round.
func (s *Server) handleToggleAutoPair(w http.ResponseWriter, r *http.Request) {
	running, err := s.ble.ToggleAutoPairing(r.Context())
	s.auditLog(r, audit.ActionAutoPairToggle, "", err, map[string]any{"auto_pairing": running})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auto_pairing": running,
	})
}

// handleListOperations returns the in-flight radio operations.
func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	ops := s.ble.Registry().Operations()
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": ops,
		"count":      len(ops),
	})
}
