// Package radio implements the ble.Radio transport on a real adapter.
//
// GATT work (scanning, connecting, service discovery) goes through
// tinygo.org/x/bluetooth. Adapter power state and forced device
// disconnects go through BlueZ over the D-Bus system bus.
//
//	bus, _ := dbus.SystemBus()
//	bz := radio.NewBlueZ(bus, "hci0")
//	a := radio.NewAdapter(bluetooth.DefaultAdapter, bz)
//	if err := a.Enable(); err != nil { ... }
//	svc, _ := ble.New(ble.Options{Radio: a, ...})
package radio
