// Package audit records the operator commands the link manager receives
// and persists them to the audit_logs table.
//
// Entries are written asynchronously by a Recorder so that a slow disk
// never delays a radio operation. When the Recorder's queue is full the
// entry is dropped and a warning is logged.
package audit
