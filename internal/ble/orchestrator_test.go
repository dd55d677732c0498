package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

type orchFixture struct {
	radio *MockRadio
	reg   *device.Registry
	kv    *memKV
	orch  *Orchestrator
	tel   *recordingTelemetry
}

func newOrchFixture(policy DisconnectPolicy, limiter *rate.Limiter) *orchFixture {
	radio := NewMockRadio(device.AdapterPoweredOn)
	reg := poweredRegistry(device.AdapterPoweredOn)
	kv := newMemKV()
	tel := &recordingTelemetry{}
	orch := NewOrchestrator(radio, reg, device.NewSavedStore(kv, ""), limiter, policy)
	orch.SetTelemetry(tel)
	return &orchFixture{radio: radio, reg: reg, kv: kv, orch: orch, tel: tel}
}

func TestOrchestrator_ConnectSuccess(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	d := device.Device{ID: "AA:01", Name: "Lamp"}

	outcome, err := f.orch.Connect(context.Background(), d)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if outcome != OutcomeConnected {
		t.Errorf("outcome = %v, want connected", outcome)
	}
	if !f.reg.IsConnected("AA:01") {
		t.Error("device should be in the connected set")
	}
	if !f.reg.IsSaved("AA:01") {
		t.Error("first connect should append to the saved list")
	}
	if f.reg.Connecting() {
		t.Error("in-flight entry should be removed after connect")
	}

	services, err := f.reg.Services("AA:01")
	if err != nil {
		t.Fatalf("Services() error = %v", err)
	}
	if len(services) != 1 || services[0].Label != "Light Control Service" {
		t.Errorf("services = %+v, want filtered and labelled light service", services)
	}

	list, err := device.NewSavedStore(f.kv, "").Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(list) != 1 || list[0] != d {
		t.Errorf("persisted list = %+v, want [%+v]", list, d)
	}

	if ev := f.tel.Events(); len(ev) != 1 || ev[0] != "AA:01/connect/connected" {
		t.Errorf("telemetry = %v", ev)
	}
}

func TestOrchestrator_ConnectAlreadyConnected(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.reg.AddConnected(device.Device{ID: "AA:01"}, nil)

	outcome, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if outcome != OutcomeAlreadyConnected {
		t.Errorf("outcome = %v, want already_connected", outcome)
	}
	if outcome.Notice() != NoticeAlreadyConnected {
		t.Errorf("Notice() = %q", outcome.Notice())
	}
	if len(f.radio.ConnectCalls()) != 0 {
		t.Error("no radio I/O expected for an already-connected device")
	}
	if f.kv.Sets() != 0 {
		t.Error("no persistence expected for an already-connected device")
	}
}

func TestOrchestrator_ConnectAdapterUnavailable(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.reg.SetAdapterState(device.AdapterPoweredOff)

	_, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"})
	if !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("Connect() error = %v, want ErrAdapterUnavailable", err)
	}
	if len(f.radio.ConnectCalls()) != 0 {
		t.Error("no radio I/O expected when the adapter is off")
	}
}

func TestOrchestrator_PowerLossDuringConnect(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	gate := f.radio.Gate()

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:09", Name: "Lamp"})
		done <- err
	}()
	waitFor(t, "connect in flight", func() bool { return f.reg.ConnectInFlight("AA:09") })

	f.reg.SetAdapterState(device.AdapterPoweredOff)
	close(gate)

	err := <-done
	if !errors.Is(err, ErrAdapterUnavailable) || !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailure wrapping ErrAdapterUnavailable", err)
	}
	if f.reg.IsConnected("AA:09") || f.reg.IsSaved("AA:09") {
		t.Error("a link completed after power loss must not be recorded")
	}
	if calls := f.radio.CancelCalls(); len(calls) != 1 || calls[0] != "AA:09" {
		t.Errorf("CancelCalls = %v, want [AA:09]", calls)
	}
	if f.reg.Connecting() {
		t.Error("in-flight entry should be removed")
	}
}

func TestOrchestrator_ConnectDeduplicatesInFlight(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	gate := f.radio.Gate()
	d := device.Device{ID: "AA:01", Name: "Lamp"}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Connect(context.Background(), d)
		done <- err
	}()
	waitFor(t, "first connect in flight", func() bool { return f.reg.ConnectInFlight("AA:01") })

	outcome, err := f.orch.Connect(context.Background(), d)
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if outcome != OutcomeInProgress {
		t.Errorf("outcome = %v, want in_progress", outcome)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if n := len(f.radio.ConnectCalls()); n != 1 {
		t.Errorf("radio Connect called %d times, want 1", n)
	}
}

func TestOrchestrator_ConcurrentDevicesKeepOwnIndicators(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	gate := f.radio.Gate()

	var wg sync.WaitGroup
	for _, id := range []string{"AA:01", "AA:02"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.orch.Connect(context.Background(), device.Device{ID: id, Name: id})
		}()
	}
	waitFor(t, "both connects in flight", func() bool { return len(f.reg.Operations()) == 2 })

	if f.reg.State("AA:01") != device.StateConnecting || f.reg.State("AA:02") != device.StateConnecting {
		t.Error("both devices should report connecting")
	}

	close(gate)
	wg.Wait()

	if len(f.reg.Connected()) != 2 {
		t.Errorf("Connected() = %+v, want both devices", f.reg.Connected())
	}
	if f.reg.Connecting() {
		t.Error("no connect should remain in flight")
	}
	if len(f.reg.Saved()) != 2 {
		t.Errorf("Saved() = %+v, want both devices", f.reg.Saved())
	}
}

func TestOrchestrator_ConnectFailureLeavesStateUnchanged(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.radio.SetConnectErr("AA:01", errRadio)

	_, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"})
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailure", err)
	}
	if !errors.Is(err, errRadio) {
		t.Error("error should wrap the radio cause")
	}
	if f.reg.IsConnected("AA:01") || f.reg.IsSaved("AA:01") {
		t.Error("failed connect must not touch connected or saved sets")
	}
	if f.reg.Connecting() {
		t.Error("in-flight entry must be removed on failure")
	}
	if f.kv.Sets() != 0 {
		t.Error("failed connect must not persist")
	}
}

func TestOrchestrator_DiscoveryFailureCancelsLink(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.radio.SetDiscoverErr("AA:01", errRadio)

	_, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"})
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailure", err)
	}
	if calls := f.radio.CancelCalls(); len(calls) != 1 || calls[0] != "AA:01" {
		t.Errorf("CancelCalls = %v, want [AA:01]", calls)
	}
	if f.reg.IsConnected("AA:01") {
		t.Error("device must not be connected after discovery failure")
	}
}

func TestOrchestrator_PersistenceFailureDoesNotFailConnect(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.kv.setErr = errors.New("disk full")

	outcome, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"})
	if err != nil {
		t.Fatalf("Connect() error = %v, want nil", err)
	}
	if outcome != OutcomeConnected || !f.reg.IsConnected("AA:01") {
		t.Error("connect should succeed despite persistence failure")
	}
	if !f.reg.IsSaved("AA:01") {
		t.Error("in-memory saved list still records the device")
	}
}

func TestOrchestrator_SavedDeviceNotPersistedAgain(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	f.reg.SetSaved([]device.Device{{ID: "AA:01", Name: "Original"}})

	if _, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01", Name: "New"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.kv.Sets() != 0 {
		t.Error("reconnecting a saved device must not rewrite the saved list")
	}
	if f.reg.Saved()[0].Name != "Original" {
		t.Error("saved entries are never mutated")
	}
}

func TestOrchestrator_ConnectLimiter(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, rate.NewLimiter(rate.Every(time.Hour), 1))

	if _, err := f.orch.Connect(context.Background(), device.Device{ID: "AA:01"}); err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.orch.Connect(ctx, device.Device{ID: "AA:02"})
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("rate-limited Connect() error = %v, want ErrConnectionFailure", err)
	}
	if n := len(f.radio.ConnectCalls()); n != 1 {
		t.Errorf("radio Connect called %d times, want 1", n)
	}
	if f.reg.ConnectInFlight("AA:02") {
		t.Error("in-flight entry must be removed when pacing fails")
	}
}

func TestOrchestrator_Disconnect(t *testing.T) {
	t.Run("success removes device", func(t *testing.T) {
		f := newOrchFixture(PolicyPerDevice, nil)
		f.reg.AddConnected(device.Device{ID: "AA:01"}, nil)

		if err := f.orch.Disconnect(context.Background(), "AA:01"); err != nil {
			t.Fatalf("Disconnect() error = %v", err)
		}
		if f.reg.IsConnected("AA:01") {
			t.Error("device should be removed")
		}
	})

	t.Run("failure leaves set unchanged", func(t *testing.T) {
		f := newOrchFixture(PolicyPerDevice, nil)
		f.reg.AddConnected(device.Device{ID: "AA:01"}, nil)
		f.radio.SetCancelErr("AA:01", errRadio)

		err := f.orch.Disconnect(context.Background(), "AA:01")
		if !errors.Is(err, ErrDisconnectionFailure) {
			t.Fatalf("Disconnect() error = %v, want ErrDisconnectionFailure", err)
		}
		if !f.reg.IsConnected("AA:01") {
			t.Error("device should remain connected")
		}
	})
}

func TestOrchestrator_DisconnectAll(t *testing.T) {
	tests := []struct {
		name          string
		policy        DisconnectPolicy
		failIDs       []string
		wantErr       bool
		wantRemaining []string
	}{
		{"all succeed per device", PolicyPerDevice, nil, false, nil},
		{"all succeed all-or-nothing", PolicyAllOrNothing, nil, false, nil},
		{"partial failure per device", PolicyPerDevice, []string{"AA:02"}, true, []string{"AA:02"}},
		{"partial failure all-or-nothing", PolicyAllOrNothing, []string{"AA:02"}, true, []string{"AA:01", "AA:02", "AA:03"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(tt.policy, nil)
			for _, id := range []string{"AA:01", "AA:02", "AA:03"} {
				f.reg.AddConnected(device.Device{ID: id}, nil)
			}
			for _, id := range tt.failIDs {
				f.radio.SetCancelErr(id, errRadio)
			}

			err := f.orch.DisconnectAll(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("DisconnectAll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDisconnectionFailure) {
				t.Errorf("error should wrap ErrDisconnectionFailure: %v", err)
			}
			if n := len(f.radio.CancelCalls()); n != 3 {
				t.Errorf("cancel issued %d times, want 3 (all settle)", n)
			}

			remaining := f.reg.Connected()
			if len(remaining) != len(tt.wantRemaining) {
				t.Fatalf("remaining = %+v, want %v", remaining, tt.wantRemaining)
			}
			for i, id := range tt.wantRemaining {
				if remaining[i].ID != id {
					t.Errorf("remaining[%d] = %s, want %s", i, remaining[i].ID, id)
				}
			}
		})
	}
}

func TestOrchestrator_DisconnectAllEmpty(t *testing.T) {
	f := newOrchFixture(PolicyPerDevice, nil)
	if err := f.orch.DisconnectAll(context.Background()); err != nil {
		t.Fatalf("DisconnectAll() on empty set error = %v", err)
	}
	if len(f.radio.CancelCalls()) != 0 {
		t.Error("no radio I/O expected for an empty set")
	}
}
