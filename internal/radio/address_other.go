//go:build !linux

package radio

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// addressFromID only resolves devices seen in a scan on this platform.
func addressFromID(id string) (bluetooth.Address, error) {
	return bluetooth.Address{}, fmt.Errorf("%w: %s not seen in a scan", ErrUnknownAddress, id)
}
