// Package auth issues and validates the JWT access tokens that guard the
// link manager's API.
//
// There are two roles. A viewer may read adapter, scan and device state.
// An operator may also start and stop scans, connect and disconnect
// devices, and toggle auto-pairing. Role permissions are a static table;
// tokens are validated by signature and expiry only.
package auth
