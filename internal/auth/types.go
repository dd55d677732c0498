package auth

import "errors"

// Role is the authorisation tier carried in an access token.
type Role string

const (
	// RoleViewer may read adapter, scan and device state.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally scan, connect, disconnect and toggle
	// auto-pairing.
	RoleOperator Role = "operator"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for authentication and authorisation.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
