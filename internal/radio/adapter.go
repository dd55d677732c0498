package radio

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/gray-logic-ble/internal/ble"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// PowerSource reports adapter power and force-drops device links.
// *BlueZ is the production implementation.
type PowerSource interface {
	State(ctx context.Context) (device.AdapterState, error)
	Subscribe(cb func(device.AdapterState), emitCurrent bool) (func(), error)
	DisconnectDevice(ctx context.Context, id string) error
}

// Adapter implements ble.Radio on a tinygo bluetooth adapter.
type Adapter struct {
	bt     *bluetooth.Adapter
	power  PowerSource
	logger Logger

	mu        sync.Mutex
	scanning  bool
	stopping  bool
	scanDone  chan struct{}
	addresses map[string]bluetooth.Address
	links     map[string]bluetooth.Device
}

// NewAdapter wraps bt, using power for state and forced disconnects.
func NewAdapter(bt *bluetooth.Adapter, power PowerSource) *Adapter {
	return &Adapter{
		bt:        bt,
		power:     power,
		logger:    noopLogger{},
		addresses: make(map[string]bluetooth.Address),
		links:     make(map[string]bluetooth.Device),
	}
}

// SetLogger sets the logger.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Enable initialises the underlying adapter.
func (a *Adapter) Enable() error {
	if err := a.bt.Enable(); err != nil {
		return fmt.Errorf("radio: enabling adapter: %w", err)
	}
	return nil
}

// SubscribeState implements ble.Radio.
func (a *Adapter) SubscribeState(cb func(device.AdapterState), emitCurrent bool) (func(), error) {
	return a.power.Subscribe(cb, emitCurrent)
}

// State implements ble.Radio.
func (a *Adapter) State(ctx context.Context) (device.AdapterState, error) {
	return a.power.State(ctx)
}

// StartScan implements ble.Radio. The library reports every advertisement,
// so opts.AllowDuplicates has no effect here; deduplication happens above.
func (a *Adapter) StartScan(_ context.Context, filterIDs []string, _ ble.ScanOptions, cb func(ble.Advertisement, error)) error {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return ErrScanActive
	}
	a.scanning = true
	a.stopping = false
	done := make(chan struct{})
	a.scanDone = done
	a.mu.Unlock()

	filter := idFilter(filterIDs)
	ready := make(chan struct{})
	defer close(ready)

	go func() {
		defer close(done)
		<-ready

		err := a.bt.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := device.NormalizeID(result.Address.String())
			if !filter(id) {
				return
			}
			a.mu.Lock()
			a.addresses[id] = result.Address
			a.mu.Unlock()

			cb(ble.Advertisement{ID: id, Name: result.LocalName(), RSSI: result.RSSI}, nil)
		})

		a.mu.Lock()
		stopping := a.stopping
		a.scanning = false
		a.mu.Unlock()

		if err != nil && !stopping {
			a.logger.Warn("scan ended with error", "error", err)
			cb(ble.Advertisement{}, err)
		}
	}()
	return nil
}

// StopScan implements ble.Radio. It waits for the scan loop to exit.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	if !a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.stopping = true
	done := a.scanDone
	a.mu.Unlock()

	if err := a.bt.StopScan(); err != nil {
		return fmt.Errorf("radio: stopping scan: %w", err)
	}
	<-done
	return nil
}

// Connect implements ble.Radio. The library call cannot be cancelled, so
// a link that completes after ctx is done is closed again.
func (a *Adapter) Connect(ctx context.Context, id string) (ble.Peripheral, error) {
	id = device.NormalizeID(id)
	addr, err := a.address(id)
	if err != nil {
		return nil, err
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := a.bt.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev: dev, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("radio: connecting %s: %w", id, r.err)
		}
		a.mu.Lock()
		a.links[id] = r.dev
		a.mu.Unlock()
		return &peripheral{id: id, dev: r.dev}, nil

	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				if err := r.dev.Disconnect(); err != nil {
					a.logger.Warn("closing abandoned link failed", "device_id", id, "error", err)
				}
			}
		}()
		return nil, ctx.Err()
	}
}

// CancelConnection implements ble.Radio. Links opened by an earlier
// process are dropped through BlueZ.
func (a *Adapter) CancelConnection(ctx context.Context, id string) error {
	id = device.NormalizeID(id)

	a.mu.Lock()
	dev, ok := a.links[id]
	a.mu.Unlock()

	if !ok {
		return a.power.DisconnectDevice(ctx, id)
	}

	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("radio: disconnecting %s: %w", id, err)
	}

	a.mu.Lock()
	delete(a.links, id)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) address(id string) (bluetooth.Address, error) {
	a.mu.Lock()
	addr, ok := a.addresses[id]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}
	return addressFromID(id)
}

// idFilter returns a predicate accepting IDs in ids, or everything when
// ids is empty.
func idFilter(ids []string) func(string) bool {
	if len(ids) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[device.NormalizeID(id)] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

type peripheral struct {
	id  string
	dev bluetooth.Device
}

func (p *peripheral) ID() string { return p.id }

func (p *peripheral) DiscoverServicesAndCharacteristics(ctx context.Context) ([]device.Service, error) {
	type result struct {
		services []device.Service
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		services, err := discover(p.dev)
		ch <- result{services: services, err: err}
	}()

	select {
	case r := <-ch:
		return r.services, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func discover(dev bluetooth.Device) ([]device.Service, error) {
	srvcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("radio: discovering services: %w", err)
	}

	out := make([]device.Service, 0, len(srvcs))
	for _, srvc := range srvcs {
		chars, err := srvc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("radio: discovering characteristics of %s: %w", srvc.UUID().String(), err)
		}
		s := device.Service{
			UUID:            srvc.UUID().String(),
			Characteristics: make([]device.Characteristic, 0, len(chars)),
		}
		for _, c := range chars {
			s.Characteristics = append(s.Characteristics, device.Characteristic{UUID: c.UUID().String()})
		}
		out = append(out, s)
	}
	return out, nil
}
