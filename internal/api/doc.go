// Package api implements the HTTP REST API and WebSocket server for the
// BLE link manager.
//
// This package provides:
//   - REST endpoints for adapter state, scanning, links and auto-pairing
//   - A WebSocket hub that mirrors registry events to subscribed clients
//   - JWT bearer authentication with viewer/operator permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Error mapping
//
// Link manager errors are translated by statusForError: validation errors
// become 400, unknown devices 404, a duplicate in-flight operation 409,
// radio failures 502 and an unpowered adapter 503.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. When they are absent the metrics
// endpoint reports them as disabled and every other route still works.
package api
