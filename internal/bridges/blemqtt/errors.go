package blemqtt

import "errors"

// Domain errors for the BLE MQTT bridge.
var (
	// ErrInvalidCommand is returned for unparseable or unknown commands.
	ErrInvalidCommand = errors.New("blemqtt: invalid command")
)
