package ble

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

const headlessID = "B8:27:EB:80:3B:99"

type deviceSink struct {
	mu      sync.Mutex
	devices []device.Device
	errs    []error
}

func (s *deviceSink) onDevice(d device.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, d)
}

func (s *deviceSink) onError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *deviceSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.devices))
	for i, d := range s.devices {
		out[i] = d.ID
	}
	return out
}

func TestScanner_StartRequiresPoweredOn(t *testing.T) {
	states := []device.AdapterState{
		device.AdapterPoweredOff,
		device.AdapterResetting,
		device.AdapterUnauthorized,
		device.AdapterUnsupported,
		device.AdapterUnknown,
	}

	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			radio := NewMockRadio(state)
			s := NewScanner(radio, poweredRegistry(state), nil)

			err := s.Start(context.Background(), OwnerUser)
			if !errors.Is(err, ErrAdapterUnavailable) {
				t.Fatalf("Start() error = %v, want ErrAdapterUnavailable", err)
			}
			if radio.ScanStarts() != 0 {
				t.Error("no radio I/O expected when the adapter is unavailable")
			}
			if s.Active() {
				t.Error("scanner should not be active")
			}
		})
	}
}

func TestScanner_FiltersAndRecordsOncePerSession(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, []string{headlessID})
	sink := &deviceSink{}
	s.Listen(sink.onDevice, sink.onError)

	if err := s.Start(context.Background(), OwnerUser); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	radio.Advertise(Advertisement{ID: "AA:01", Name: "Lamp", RSSI: -60})
	radio.Advertise(Advertisement{ID: "AA:02"}) // unnamed, not allow-listed
	radio.Advertise(Advertisement{ID: headlessID, RSSI: -70})
	radio.Advertise(Advertisement{ID: "AA:01", Name: "Renamed", RSSI: -50})

	got := reg.Discovered()
	if len(got) != 2 {
		t.Fatalf("Discovered() = %+v, want 2 entries", got)
	}
	if got[0].ID != "AA:01" || got[0].Name != "Lamp" {
		t.Errorf("first entry = %+v, want AA:01/Lamp (first sighting wins)", got[0])
	}
	if got[1].ID != headlessID {
		t.Errorf("second entry = %+v, want allow-listed headless device", got[1])
	}

	wantOrder := []string{"AA:01", headlessID, "AA:01"}
	gotOrder := sink.ids()
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("listener saw %v, want %v", gotOrder, wantOrder)
	}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Errorf("listener[%d] = %s, want %s", i, gotOrder[i], wantOrder[i])
		}
	}

	sighting, ok := s.Sighting("AA:01")
	if !ok {
		t.Fatal("expected a sighting for AA:01")
	}
	if sighting.Count != 2 || sighting.RSSI != -50 {
		t.Errorf("sighting = %+v, want count 2 rssi -50", sighting)
	}
}

func TestScanner_AllowListIsCaseInsensitive(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, []string{"b8:27:eb:80:3b:99"})

	if err := s.Start(context.Background(), OwnerUser); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	radio.Advertise(Advertisement{ID: headlessID})

	if len(reg.Discovered()) != 1 {
		t.Error("allow-list entry should match regardless of case")
	}
}

func TestScanner_OwnersShareSession(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, nil)
	ctx := context.Background()

	if err := s.Start(ctx, OwnerUser); err != nil {
		t.Fatalf("Start(user) error = %v", err)
	}
	radio.Advertise(Advertisement{ID: "AA:01", Name: "Lamp"})

	if err := s.Start(ctx, OwnerAutoPair); err != nil {
		t.Fatalf("Start(autopair) error = %v", err)
	}
	if radio.ScanStarts() != 1 {
		t.Errorf("ScanStarts = %d, want 1 (second owner joins)", radio.ScanStarts())
	}
	if len(reg.Discovered()) != 1 {
		t.Error("joining an active session must not clear its device list")
	}

	if err := s.Stop(OwnerUser); err != nil {
		t.Fatalf("Stop(user) error = %v", err)
	}
	if !s.Active() || !reg.Scanning() {
		t.Error("session should continue while autopair still holds it")
	}
	if radio.ScanStops() != 0 {
		t.Error("radio scan should not stop while an owner remains")
	}

	if err := s.Stop(OwnerAutoPair); err != nil {
		t.Fatalf("Stop(autopair) error = %v", err)
	}
	if s.Active() || reg.Scanning() {
		t.Error("session should end when the last owner releases it")
	}
	if radio.ScanStops() != 1 {
		t.Errorf("ScanStops = %d, want 1", radio.ScanStops())
	}

	// Releasing an owner that holds nothing is a no-op.
	if err := s.Stop(OwnerUser); err != nil {
		t.Errorf("Stop() of idle owner error = %v", err)
	}
	if radio.ScanStops() != 1 {
		t.Error("idle Stop must not touch the radio")
	}
}

func TestScanner_NewSessionClearsDeviceList(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, nil)
	ctx := context.Background()

	_ = s.Start(ctx, OwnerUser)
	radio.Advertise(Advertisement{ID: "AA:01", Name: "Lamp"})
	_ = s.Stop(OwnerUser)

	if len(reg.Discovered()) != 1 {
		t.Fatal("stopping keeps the list until the next session")
	}

	_ = s.Start(ctx, OwnerUser)
	if len(reg.Discovered()) != 0 {
		t.Error("a new session should start with an empty list")
	}
	radio.Advertise(Advertisement{ID: "AA:01", Name: "Lamp"})
	if len(reg.Discovered()) != 1 {
		t.Error("device should be recorded again in the new session")
	}
}

func TestScanner_IgnoresAdvertisementsAfterStop(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, nil)
	sink := &deviceSink{}
	s.Listen(sink.onDevice, nil)

	_ = s.Start(context.Background(), OwnerUser)
	if err := s.Halt(); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}

	radio.Advertise(Advertisement{ID: "AA:01", Name: "Late"})

	if len(reg.Discovered()) != 0 || len(sink.ids()) != 0 {
		t.Error("advertisements after Halt must be ignored")
	}
}

func TestScanner_ScanErrorEndsSession(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, nil)
	sink := &deviceSink{}
	s.Listen(sink.onDevice, sink.onError)

	var events []device.EventType
	var mu sync.Mutex
	reg.Subscribe(func(e device.Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	_ = s.Start(context.Background(), OwnerUser)
	radio.FailScan(errors.New("hci timeout"))

	if s.Active() || reg.Scanning() {
		t.Error("scan error should end the session")
	}
	sink.mu.Lock()
	if len(sink.errs) != 1 || !errors.Is(sink.errs[0], ErrScanFailure) {
		t.Errorf("listener errors = %v, want one ErrScanFailure", sink.errs)
	}
	sink.mu.Unlock()

	mu.Lock()
	sawFailed := false
	for _, e := range events {
		if e == device.EventScanFailed {
			sawFailed = true
		}
	}
	mu.Unlock()
	if !sawFailed {
		t.Error("expected a scan.failed event")
	}

	// Restart is allowed.
	if err := s.Start(context.Background(), OwnerUser); err != nil {
		t.Fatalf("restart after failure error = %v", err)
	}
	if radio.ScanStarts() != 2 {
		t.Errorf("ScanStarts = %d, want 2", radio.ScanStarts())
	}
}

func TestScanner_StartScanFailure(t *testing.T) {
	radio := NewMockRadio(device.AdapterPoweredOn)
	radio.startScanErr = errors.New("busy")
	reg := poweredRegistry(device.AdapterPoweredOn)
	s := NewScanner(radio, reg, nil)

	err := s.Start(context.Background(), OwnerUser)
	if !errors.Is(err, ErrScanFailure) {
		t.Fatalf("Start() error = %v, want ErrScanFailure", err)
	}
	if s.Active() || reg.Scanning() {
		t.Error("failed start must leave the scanner idle")
	}
}
