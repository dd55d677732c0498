//go:build linux

package radio

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// addressFromID builds a BlueZ address from a MAC-formatted device ID.
func addressFromID(id string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(id)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("%w: %s: %w", ErrUnknownAddress, id, err)
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}
