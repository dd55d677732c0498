// Package logging provides structured logging for the BLE link manager.
//
// This package wraps Go's standard log/slog package so that every
// component (radio transport, link orchestration, MQTT bridge, API) logs
// with the same shape.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("link established", "device_id", id)
//	logger.Component("radio").Warn("scan error", "error", err)
//
// # Security
//
// Never log secrets, tokens or passwords. Device hardware addresses are
// fine to log.
package logging
