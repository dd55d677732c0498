package radio

import "errors"

// Domain errors for the radio package.
var (
	// ErrScanActive is returned when a scan is requested while one is running.
	ErrScanActive = errors.New("radio: scan already active")

	// ErrNotConnected is returned when no link is open to a device.
	ErrNotConnected = errors.New("radio: device not connected")

	// ErrUnknownAddress is returned when a device ID cannot be turned into
	// a radio address.
	ErrUnknownAddress = errors.New("radio: unknown device address")
)
