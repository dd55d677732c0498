package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// BlueZ D-Bus names.
const (
	bluezService     = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	objManagerIface  = "org.freedesktop.DBus.ObjectManager"
	signalBufferSize = 16

	// stateQueryTimeout bounds the current-state read done on subscribe.
	stateQueryTimeout = 3 * time.Second
)

// AdapterPath returns the D-Bus object path of a local adapter ("hci0").
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// DevicePath returns the D-Bus object path of a remote device under adapter.
func DevicePath(adapter dbus.ObjectPath, id string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(device.NormalizeID(id), ":", "_"))
}

// BlueZ watches the adapter's power state over D-Bus and issues the few
// device calls the GATT library does not cover.
type BlueZ struct {
	bus     *dbus.Conn
	adapter dbus.ObjectPath
	logger  Logger

	mu     sync.Mutex
	subs   map[int]func(device.AdapterState)
	nextID int
	last   device.AdapterState

	sigCh     chan *dbus.Signal
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBlueZ creates a watcher for the named adapter on bus.
func NewBlueZ(bus *dbus.Conn, adapterName string) *BlueZ {
	return &BlueZ{
		bus:     bus,
		adapter: AdapterPath(adapterName),
		logger:  noopLogger{},
		subs:    make(map[int]func(device.AdapterState)),
		last:    device.AdapterUnknown,
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (b *BlueZ) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to adapter property changes and adapter removal.
func (b *BlueZ) Start() error {
	var err error
	b.startOnce.Do(func() {
		if err = b.bus.AddMatchSignal(
			dbus.WithMatchObjectPath(b.adapter),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		); err != nil {
			err = fmt.Errorf("radio: AddMatchSignal PropertiesChanged: %w", err)
			return
		}
		if err = b.bus.AddMatchSignal(
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesRemoved"),
		); err != nil {
			err = fmt.Errorf("radio: AddMatchSignal InterfacesRemoved: %w", err)
			return
		}

		b.sigCh = make(chan *dbus.Signal, signalBufferSize)
		b.bus.Signal(b.sigCh)

		b.wg.Add(1)
		go b.loop()
	})
	return err
}

// Close stops watching. Safe to call more than once.
func (b *BlueZ) Close() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.sigCh != nil {
			b.bus.RemoveSignal(b.sigCh)
		}
		b.wg.Wait()
	})
}

// State reads the adapter's power state.
func (b *BlueZ) State(ctx context.Context) (device.AdapterState, error) {
	obj := b.bus.Object(bluezService, b.adapter)

	var props map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesIface+".GetAll", 0, adapterIface).Store(&props); err != nil {
		if state, ok := stateFromDBusError(err); ok {
			return state, nil
		}
		return device.AdapterUnknown, fmt.Errorf("radio: reading adapter properties: %w", err)
	}

	state, ok := stateFromProperties(props)
	if !ok {
		return device.AdapterUnknown, nil
	}
	return state, nil
}

// Subscribe registers cb for power-state changes. With emitCurrent set,
// cb is first called with the state read from the adapter.
func (b *BlueZ) Subscribe(cb func(device.AdapterState), emitCurrent bool) (func(), error) {
	if err := b.Start(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = cb
	b.mu.Unlock()

	if emitCurrent {
		ctx, cancel := context.WithTimeout(context.Background(), stateQueryTimeout)
		state, err := b.State(ctx)
		cancel()
		if err != nil {
			b.logger.Warn("reading adapter state failed", "adapter", b.adapter, "error", err)
		}
		b.record(state)
		cb(state)
	}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// DisconnectDevice asks BlueZ to drop the link to id.
func (b *BlueZ) DisconnectDevice(ctx context.Context, id string) error {
	obj := b.bus.Object(bluezService, DevicePath(b.adapter, id))
	if err := obj.CallWithContext(ctx, deviceIface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("radio: disconnecting %s: %w", id, err)
	}
	return nil
}

func (b *BlueZ) loop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.sigCh:
			if !ok {
				return
			}
			if state, changed := b.stateFromSignal(sig); changed {
				b.emit(state)
			}
		}
	}
}

// stateFromSignal extracts a power state from a D-Bus signal, if it
// concerns this adapter.
func (b *BlueZ) stateFromSignal(sig *dbus.Signal) (device.AdapterState, bool) {
	if sig == nil {
		return "", false
	}

	switch sig.Name {
	case propertiesIface + ".PropertiesChanged":
		if sig.Path != b.adapter || len(sig.Body) < 2 {
			return "", false
		}
		iface, _ := sig.Body[0].(string)
		if iface != adapterIface {
			return "", false
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		return stateFromProperties(changed)

	case objManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 2 {
			return "", false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		if path != b.adapter {
			return "", false
		}
		for _, i := range ifaces {
			if i == adapterIface {
				return device.AdapterUnsupported, true
			}
		}
	}
	return "", false
}

func (b *BlueZ) record(state device.AdapterState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == state {
		return false
	}
	b.last = state
	return true
}

func (b *BlueZ) emit(state device.AdapterState) {
	if !b.record(state) {
		return
	}

	b.mu.Lock()
	subs := make([]func(device.AdapterState), 0, len(b.subs))
	for _, cb := range b.subs {
		subs = append(subs, cb)
	}
	b.mu.Unlock()

	b.logger.Info("adapter power changed", "adapter", b.adapter, "state", state)
	for _, cb := range subs {
		cb(state)
	}
}

// stateFromProperties maps Adapter1 properties to a power state. The
// PowerState property (BlueZ 5.52+) is preferred over the Powered flag.
func stateFromProperties(props map[string]dbus.Variant) (device.AdapterState, bool) {
	if v, ok := props["PowerState"]; ok {
		if s, ok := v.Value().(string); ok {
			switch s {
			case "on":
				return device.AdapterPoweredOn, true
			case "off":
				return device.AdapterPoweredOff, true
			case "off-enabling", "on-disabling":
				return device.AdapterResetting, true
			case "off-blocked":
				return device.AdapterUnauthorized, true
			}
		}
	}
	if v, ok := props["Powered"]; ok {
		if powered, ok := v.Value().(bool); ok {
			if powered {
				return device.AdapterPoweredOn, true
			}
			return device.AdapterPoweredOff, true
		}
	}
	return "", false
}

// stateFromDBusError maps well-known D-Bus failures to a power state.
func stateFromDBusError(err error) (device.AdapterState, bool) {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return "", false
	}
	switch dbusErr.Name {
	case "org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.UnknownObject",
		"org.freedesktop.DBus.Error.UnknownInterface":
		return device.AdapterUnsupported, true
	case "org.freedesktop.DBus.Error.AccessDenied",
		"org.bluez.Error.NotAuthorized":
		return device.AdapterUnauthorized, true
	}
	return "", false
}
