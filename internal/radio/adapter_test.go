package radio

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// fakePower is a PowerSource recording forced disconnects.
type fakePower struct {
	mu            sync.Mutex
	state         device.AdapterState
	disconnected  []string
	disconnectErr error
}

func (f *fakePower) State(context.Context) (device.AdapterState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakePower) Subscribe(cb func(device.AdapterState), emitCurrent bool) (func(), error) {
	if emitCurrent {
		cb(f.state)
	}
	return func() {}, nil
}

func (f *fakePower) DisconnectDevice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return f.disconnectErr
}

func TestIDFilter(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		id   string
		want bool
	}{
		{name: "no filter accepts anything", ids: nil, id: "AA:BB:CC:DD:EE:01", want: true},
		{name: "empty filter accepts anything", ids: []string{}, id: "11:22:33:44:55:66", want: true},
		{name: "listed id", ids: []string{"AA:BB:CC:DD:EE:01"}, id: "AA:BB:CC:DD:EE:01", want: true},
		{name: "filter entries are normalised", ids: []string{" aa:bb:cc:dd:ee:01 "}, id: "AA:BB:CC:DD:EE:01", want: true},
		{name: "unlisted id", ids: []string{"AA:BB:CC:DD:EE:01"}, id: "AA:BB:CC:DD:EE:02", want: false},
		{name: "one of several", ids: []string{"AA:01", "AA:02", "AA:03"}, id: "AA:02", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idFilter(tt.ids)(tt.id); got != tt.want {
				t.Errorf("idFilter(%v)(%q) = %v, want %v", tt.ids, tt.id, got, tt.want)
			}
		})
	}
}

func TestAdapter_StopScanWhenIdle(t *testing.T) {
	a := NewAdapter(nil, &fakePower{})
	if err := a.StopScan(); err != nil {
		t.Errorf("StopScan() with no scan running = %v, want nil", err)
	}
}

func TestAdapter_StatePassesThrough(t *testing.T) {
	power := &fakePower{state: device.AdapterPoweredOff}
	a := NewAdapter(nil, power)

	state, err := a.State(context.Background())
	if err != nil || state != device.AdapterPoweredOff {
		t.Errorf("State() = %v, %v; want PoweredOff", state, err)
	}

	var got device.AdapterState
	if _, err := a.SubscribeState(func(s device.AdapterState) { got = s }, true); err != nil {
		t.Fatalf("SubscribeState() error = %v", err)
	}
	if got != device.AdapterPoweredOff {
		t.Errorf("SubscribeState emitted %q, want PoweredOff", got)
	}
}

func TestAdapter_CancelUnknownLinkGoesThroughBlueZ(t *testing.T) {
	power := &fakePower{}
	a := NewAdapter(nil, power)

	if err := a.CancelConnection(context.Background(), "aa:bb:cc:dd:ee:01"); err != nil {
		t.Fatalf("CancelConnection() error = %v", err)
	}
	if len(power.disconnected) != 1 || power.disconnected[0] != "AA:BB:CC:DD:EE:01" {
		t.Errorf("forced disconnects = %v, want [AA:BB:CC:DD:EE:01]", power.disconnected)
	}

	power.disconnectErr = errors.New("org.bluez.Error.NotConnected")
	if err := a.CancelConnection(context.Background(), "AA:BB:CC:DD:EE:02"); err == nil {
		t.Error("CancelConnection() should report the BlueZ error")
	}
}

func TestAdapter_AddressPrefersScannedAddress(t *testing.T) {
	a := NewAdapter(nil, &fakePower{})

	// Not a MAC, so only the scan cache can resolve it.
	a.addresses["LAMP-1"] = bluetooth.Address{}
	if _, err := a.address("LAMP-1"); err != nil {
		t.Errorf("address() for a scanned device error = %v", err)
	}

	if _, err := a.address("LAMP-2"); !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("address() for an unseen non-MAC id error = %v, want ErrUnknownAddress", err)
	}
}
