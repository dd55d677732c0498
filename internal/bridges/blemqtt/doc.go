// Package blemqtt bridges the BLE link manager onto the Gray Logic MQTT bus.
//
// Outbound:
//
//	graylogic/state/ble/{device_id}     retained StateMessage, on change
//	graylogic/core/event/{event_type}   every registry event
//	graylogic/ack/ble/{target}          AckMessage per command
//	graylogic/health/ble                retained HealthMessage, periodic
//
// Inbound, on graylogic/command/ble/{target}:
//
//	{device_id}  connect (parameters.name optional), disconnect
//	adapter      scan_start, scan_stop, disconnect_all, autopair_toggle
//
// Registry events are queued and published from a single goroutine, so a
// slow broker never blocks the link manager. Commands run on their own
// goroutines under a bridge-level context that Stop cancels.
package blemqtt
