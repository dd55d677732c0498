package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrPersistenceFailure) {
//	    // saved list could not be read or written
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the requested set.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidID is returned when a hardware identifier is empty or malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is too long or has control characters.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrPersistenceFailure is returned when the saved list cannot be read or written.
	ErrPersistenceFailure = errors.New("device: persistence failure")
)
