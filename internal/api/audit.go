package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// AuditTrail records operator commands and lists them back.
// *audit.Recorder satisfies it.
type AuditTrail interface {
	Record(e *audit.Entry)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// auditLog records a command issued over the API by the authenticated
// caller. Entries are written asynchronously and dropped under pressure.
func (s *Server) auditLog(r *http.Request, action audit.Action, deviceID string, err error, details map[string]any) {
	if s.audit == nil {
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}

	entry := audit.NewEntry(action, audit.SourceAPI, deviceID, subject, err)
	entry.Details = details
	s.audit.Record(entry)
}

// handleListAudit returns recorded commands, newest first.
//
// Query parameters:
//   - action: connect, disconnect, disconnect_all, scan_start, scan_stop or autopair_toggle
//   - device_id: a single device
//   - source: api or mqtt
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: audit.Action(q.Get("action")),
		Source: audit.Source(q.Get("source")),
	}
	if v := q.Get("device_id"); v != "" {
		filter.DeviceID = device.NormalizeID(v)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
