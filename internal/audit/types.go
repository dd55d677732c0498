package audit

import (
	"errors"
	"time"
)

// Action names an operator command.
type Action string

// Recorded actions. The values match the MQTT command names.
const (
	ActionConnect        Action = "connect"
	ActionDisconnect     Action = "disconnect"
	ActionDisconnectAll  Action = "disconnect_all"
	ActionScanStart      Action = "scan_start"
	ActionScanStop       Action = "scan_stop"
	ActionAutoPairToggle Action = "autopair_toggle"
)

// Source names the surface a command arrived on.
type Source string

const (
	SourceAPI  Source = "api"
	SourceMQTT Source = "mqtt"
)

// Result is the outcome of a recorded command.
type Result string

const (
	ResultOK     Result = "ok"
	ResultFailed Result = "failed"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	DeviceID  string         `json:"device_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Source    Source         `json:"source"`
	Result    Result         `json:"result"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action   Action // optional
	DeviceID string // optional
	Source   Source // optional
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// ErrInvalidEntry is returned by Create for an entry missing its action
// or source.
var ErrInvalidEntry = errors.New("invalid audit entry")

// NewEntry builds an entry for action, filling Result and Error from err.
func NewEntry(action Action, source Source, deviceID, subject string, err error) *Entry {
	e := &Entry{
		Action:   action,
		DeviceID: deviceID,
		Subject:  subject,
		Source:   source,
		Result:   ResultOK,
	}
	if err != nil {
		e.Result = ResultFailed
		e.Error = err.Error()
	}
	return e
}
