package influxdb

import "errors"

// Errors returned by the telemetry client. Test with errors.Is.
var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be pinged or
	// reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps every batch error passed to the SetOnError
	// callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
