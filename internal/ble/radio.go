package ble

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Advertisement is a single advertising report delivered during a scan.
type Advertisement struct {
	ID   string
	Name string
	RSSI int16
}

// ScanOptions tunes a scan request.
type ScanOptions struct {
	// AllowDuplicates asks the radio to report every advertisement rather
	// than only the first per device.
	AllowDuplicates bool
}

// Peripheral is a connected remote device.
type Peripheral interface {
	ID() string

	// DiscoverServicesAndCharacteristics enumerates the peripheral's GATT
	// services with their characteristics.
	DiscoverServicesAndCharacteristics(ctx context.Context) ([]device.Service, error)
}

// Radio is the raw BLE transport.
//
// Implementations deliver callbacks on their own goroutines. The scan
// callback must not be invoked before StartScan returns.
type Radio interface {
	// SubscribeState registers cb for power-state changes. With emitCurrent
	// set, cb is also called once with the current state.
	SubscribeState(cb func(device.AdapterState), emitCurrent bool) (unsubscribe func(), err error)

	// State returns the current power state.
	State(ctx context.Context) (device.AdapterState, error)

	// StartScan begins continuous advertisement delivery to cb. ctx bounds
	// the start request only; the session runs until StopScan. A non-nil
	// error passed to cb means the scan has failed.
	StartScan(ctx context.Context, filterIDs []string, opts ScanOptions, cb func(Advertisement, error)) error

	// StopScan halts advertisement delivery.
	StopScan() error

	// Connect opens a link to the peripheral with the given ID.
	Connect(ctx context.Context, id string) (Peripheral, error)

	// CancelConnection closes the link to id.
	CancelConnection(ctx context.Context, id string) error
}

// Telemetry receives link events for time-series storage.
type Telemetry interface {
	WriteLinkEvent(deviceID, event, outcome string, duration time.Duration)
}

// Logger defines the logging interface used by the ble package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopTelemetry struct{}

func (noopTelemetry) WriteLinkEvent(string, string, string, time.Duration) {}
