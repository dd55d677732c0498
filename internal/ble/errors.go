package ble

import (
	"errors"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// User-facing notices.
const (
	NoticeAlreadyConnected = "Already Connected"
	NoticeBluetoothOff     = "Bluetooth is Off"
)

// Domain errors for the ble package.
//
// Failures are wrapped as fmt.Errorf("%w: %w", sentinel, cause), so
// callers test with errors.Is.
var (
	// ErrAdapterUnavailable is returned when the radio is not powered on.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")

	// ErrScanFailure is returned or reported when a scan cannot start or fails mid-session.
	ErrScanFailure = errors.New("ble: scan failure")

	// ErrConnectionFailure is returned when a connect or service discovery fails.
	ErrConnectionFailure = errors.New("ble: connection failure")

	// ErrDisconnectionFailure is returned when a cancel-connection fails.
	ErrDisconnectionFailure = errors.New("ble: disconnection failure")

	// ErrOperationInProgress is returned when the same operation is already
	// in flight for a device.
	ErrOperationInProgress = errors.New("ble: operation in progress")

	// ErrPersistenceFailure is shared with the device package.
	ErrPersistenceFailure = device.ErrPersistenceFailure

	// ErrNotInitialised is returned by Service operations before Init.
	ErrNotInitialised = errors.New("ble: service not initialised")

	// ErrServiceClosed is returned by Service operations after Shutdown.
	ErrServiceClosed = errors.New("ble: service closed")
)
