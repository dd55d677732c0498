package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// MockRadio is a test implementation of Radio.
type MockRadio struct {
	mu sync.Mutex

	state    device.AdapterState
	stateErr error
	stateCbs map[int]func(device.AdapterState)
	nextSub  int

	// scanCb is kept after StopScan so tests can simulate late delivery.
	scanCb       func(Advertisement, error)
	scanStarts   int
	scanStops    int
	startScanErr error

	connectErr  map[string]error
	discoverErr map[string]error
	cancelErr   map[string]error
	services    map[string][]device.Service

	// waitCallbacks makes StopScan wait for in-flight scan callbacks, as
	// the tinygo scan loop does.
	waitCallbacks bool
	callbacks     sync.WaitGroup
	onStopScan    func()

	// connectGate, when set, blocks Connect until closed.
	connectGate chan struct{}

	connectCalls []string
	cancelCalls  []string
	connectCtxs  []context.Context
}

func NewMockRadio(state device.AdapterState) *MockRadio {
	return &MockRadio{
		state:       state,
		stateCbs:    make(map[int]func(device.AdapterState)),
		connectErr:  make(map[string]error),
		discoverErr: make(map[string]error),
		cancelErr:   make(map[string]error),
		services:    make(map[string][]device.Service),
	}
}

func (m *MockRadio) SubscribeState(cb func(device.AdapterState), emitCurrent bool) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.stateCbs[id] = cb
	current := m.state
	m.mu.Unlock()

	if emitCurrent {
		cb(current)
	}
	return func() {
		m.mu.Lock()
		delete(m.stateCbs, id)
		m.mu.Unlock()
	}, nil
}

func (m *MockRadio) State(context.Context) (device.AdapterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.stateErr
}

func (m *MockRadio) StartScan(_ context.Context, _ []string, _ ScanOptions, cb func(Advertisement, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scanStarts++
	if m.startScanErr != nil {
		return m.startScanErr
	}
	m.scanCb = cb
	return nil
}

func (m *MockRadio) StopScan() error {
	m.mu.Lock()
	m.scanStops++
	wait := m.waitCallbacks
	hook := m.onStopScan
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if wait {
		m.callbacks.Wait()
	}
	return nil
}

func (m *MockRadio) Connect(ctx context.Context, id string) (Peripheral, error) {
	m.mu.Lock()
	m.connectCalls = append(m.connectCalls, id)
	m.connectCtxs = append(m.connectCtxs, ctx)
	gate := m.connectGate
	err := m.connectErr[id]
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &mockPeripheral{radio: m, id: id}, nil
}

func (m *MockRadio) CancelConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls = append(m.cancelCalls, id)
	return m.cancelErr[id]
}

// --- test controls ---

// Advertise delivers ad to the current scan callback, if any.
func (m *MockRadio) Advertise(ad Advertisement) {
	m.mu.Lock()
	cb := m.scanCb
	if cb != nil && m.waitCallbacks {
		m.callbacks.Add(1)
		defer m.callbacks.Done()
	}
	m.mu.Unlock()
	if cb != nil {
		cb(ad, nil)
	}
}

// WaitForCallbacks makes StopScan block until every Advertise in progress
// has returned. hook, if set, runs when StopScan is entered.
func (m *MockRadio) WaitForCallbacks(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitCallbacks = true
	m.onStopScan = hook
}

// FailScan delivers a scan error.
func (m *MockRadio) FailScan(err error) {
	m.mu.Lock()
	cb := m.scanCb
	m.mu.Unlock()
	if cb != nil {
		cb(Advertisement{}, err)
	}
}

// SetPower changes the power state and notifies subscribers.
func (m *MockRadio) SetPower(state device.AdapterState) {
	m.mu.Lock()
	m.state = state
	cbs := make([]func(device.AdapterState), 0, len(m.stateCbs))
	for _, cb := range m.stateCbs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

func (m *MockRadio) SetConnectErr(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr[id] = err
}

func (m *MockRadio) SetCancelErr(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr[id] = err
}

func (m *MockRadio) SetDiscoverErr(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverErr[id] = err
}

func (m *MockRadio) Gate() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectGate = make(chan struct{})
	return m.connectGate
}

func (m *MockRadio) ConnectCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.connectCalls...)
}

func (m *MockRadio) CancelCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelCalls...)
}

func (m *MockRadio) ScanStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanStarts
}

func (m *MockRadio) ScanStops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanStops
}

type mockPeripheral struct {
	radio *MockRadio
	id    string
}

func (p *mockPeripheral) ID() string { return p.id }

func (p *mockPeripheral) DiscoverServicesAndCharacteristics(context.Context) ([]device.Service, error) {
	p.radio.mu.Lock()
	defer p.radio.mu.Unlock()

	if err := p.radio.discoverErr[p.id]; err != nil {
		return nil, err
	}
	if svcs, ok := p.radio.services[p.id]; ok {
		return svcs, nil
	}
	return []device.Service{
		{UUID: device.GenericAccessUUID},
		{UUID: device.LightControlServiceUUID, Characteristics: []device.Characteristic{{UUID: device.LightOnOffCharUUID}}},
	}, nil
}

// memKV is an in-memory device.KVStore.
type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   int
	getErr error
	setErr error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (k *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return nil, false, k.getErr
	}
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *memKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sets++
	if k.setErr != nil {
		return k.setErr
	}
	k.data[key] = append([]byte(nil), value...)
	return nil
}

func (k *memKV) Sets() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sets
}

// recordingTelemetry captures link events.
type recordingTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTelemetry) WriteLinkEvent(deviceID, event, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, deviceID+"/"+event+"/"+outcome)
}

func (r *recordingTelemetry) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var errRadio = errors.New("radio said no")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// poweredRegistry returns a registry with the adapter in state.
func poweredRegistry(state device.AdapterState) *device.Registry {
	r := device.NewRegistry()
	r.SetAdapterState(state)
	return r
}
