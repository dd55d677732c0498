package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
)

// handleStartScan starts or joins the user's scan session.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	err := s.ble.StartScan(r.Context())
	s.auditLog(r, audit.ActionScanStart, "", err, nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanStatus())
}

// handleStopScan releases the user's hold on the scan session. The radio
// keeps scanning while an auto-pairing round still holds it.
func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	err := s.ble.StopScan()
	s.auditLog(r, audit.ActionScanStop, "", err, nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanStatus())
}

// handleListScanDevices returns the devices discovered this session.
func (s *Server) handleListScanDevices(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews(s.ble.Registry().Discovered())
	writeJSON(w, http.StatusOK, map[string]any{
		"scanning": s.ble.Registry().Scanning(),
		"devices":  views,
		"count":    len(views),
	})
}

func (s *Server) scanStatus() map[string]any {
	return map[string]any{
		"scanning": s.ble.Registry().Scanning(),
		"owners":   s.ble.ScanOwners(),
	}
}
