package device

import (
	"fmt"
	"strings"
	"unicode"
)

// Validation constants.
const (
	// maxIDLength covers MAC addresses (17) and platform UUID identifiers (36).
	maxIDLength   = 64
	maxNameLength = 248 // BLE complete local name upper bound
)

// NormalizeID trims whitespace and upper-cases a hardware identifier so
// user input matches what the radio reports.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidateID checks a hardware identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidID)
		}
	}
	return nil
}

// ValidateName checks an advertised device name. Empty names are allowed.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidName)
		}
	}
	return nil
}

// ValidateDevice validates both fields of d.
func ValidateDevice(d Device) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	return ValidateName(d.Name)
}
