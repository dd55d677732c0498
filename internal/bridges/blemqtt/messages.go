package blemqtt

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/ble"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Protocol is the bridge's protocol segment in MQTT topics.
const Protocol = "ble"

// AdapterTarget is the command target for adapter-wide commands.
const AdapterTarget = "adapter"

// Command names.
const (
	CommandConnect        = "connect"
	CommandDisconnect     = "disconnect"
	CommandScanStart      = "scan_start"
	CommandScanStop       = "scan_stop"
	CommandDisconnectAll  = "disconnect_all"
	CommandAutoPairToggle = "autopair_toggle"
)

// CommandMessage is received on graylogic/command/ble/{target}.
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

// Ack statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage is published on graylogic/ack/ble/{target}.
type AckMessage struct {
	CommandID string         `json:"command_id"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target"`
	Command   string         `json:"command"`
	Status    AckStatus      `json:"status"`
	Protocol  string         `json:"protocol"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands.
const (
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeAdapterUnavailable = "ADAPTER_UNAVAILABLE"
	ErrCodeScanFailed         = "SCAN_FAILED"
	ErrCodeConnectFailed      = "CONNECT_FAILED"
	ErrCodeDisconnectFailed   = "DISCONNECT_FAILED"
	ErrCodeInProgress         = "IN_PROGRESS"
	ErrCodeNotConnected       = "NOT_CONNECTED"
	ErrCodeUnavailable        = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeBridgeError        = "BRIDGE_ERROR"
)

// errorCode maps a command failure to its ack code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, device.ErrInvalidID), errors.Is(err, device.ErrInvalidName):
		return ErrCodeInvalidCommand
	case errors.Is(err, ble.ErrAdapterUnavailable):
		return ErrCodeAdapterUnavailable
	case errors.Is(err, ble.ErrScanFailure):
		return ErrCodeScanFailed
	case errors.Is(err, ble.ErrConnectionFailure):
		return ErrCodeConnectFailed
	case errors.Is(err, ble.ErrDisconnectionFailure):
		return ErrCodeDisconnectFailed
	case errors.Is(err, ble.ErrOperationInProgress):
		return ErrCodeInProgress
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotConnected
	case errors.Is(err, ble.ErrNotInitialised), errors.Is(err, ble.ErrServiceClosed):
		return ErrCodeUnavailable
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage is the retained state of one device on
// graylogic/state/ble/{id}.
type StateMessage struct {
	DeviceID  string                 `json:"device_id"`
	Name      string                 `json:"name"`
	State     device.ConnectionState `json:"state"`
	Saved     bool                   `json:"saved"`
	Services  []device.Service       `json:"services,omitempty"`
	Protocol  string                 `json:"protocol"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

// Health statuses.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained body of graylogic/health/ble.
type HealthMessage struct {
	Bridge        string              `json:"bridge"`
	Status        HealthStatus        `json:"status"`
	Reason        string              `json:"reason,omitempty"`
	Version       string              `json:"version"`
	Timestamp     time.Time           `json:"timestamp"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	AdapterState  device.AdapterState `json:"adapter_state"`
	Scanning      bool                `json:"scanning"`
	AutoPairing   bool                `json:"auto_pairing"`
	Connected     int                 `json:"connected"`
	Saved         int                 `json:"saved"`
	InFlight      int                 `json:"in_flight"`
}
