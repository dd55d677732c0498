package device

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// connectedEntry is a connected device with its discovered services.
type connectedEntry struct {
	device   Device
	services []Service
}

// Registry is the single source of truth for BLE session state: the
// devices seen in the current scan session, connected devices, the saved
// list, in-flight operations and the scanning/auto-pairing/adapter flags.
//
// Every mutation is atomic under the registry lock (insert-if-absent,
// remove), so callers never read-modify-write across calls. Readers get
// copies. Subscribers are notified after the lock is released.
//
// All public methods are thread-safe.
type Registry struct {
	mu sync.RWMutex

	discovered     []Device
	discoveredSeen map[string]struct{}
	connected      []connectedEntry
	saved          []Device
	savedSeen      map[string]struct{}
	ops            map[uuid.UUID]Operation

	scanning     bool
	autoPairing  bool
	adapterState AdapterState

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. The adapter state starts as
// AdapterUnknown until the radio reports otherwise.
func NewRegistry() *Registry {
	return &Registry{
		discoveredSeen: make(map[string]struct{}),
		savedSeen:      make(map[string]struct{}),
		ops:            make(map[uuid.UUID]Operation),
		adapterState:   AdapterUnknown,
		subs:           make(map[int]func(Event)),
		logger:         noopLogger{},
		now:            time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// --- scan session ---

// AppendDiscovered records d in the session list if its ID has not been
// seen this session. Later sightings never overwrite the stored entry.
// Returns true if d was added.
func (r *Registry) AppendDiscovered(d Device) bool {
	r.mu.Lock()
	if _, seen := r.discoveredSeen[d.ID]; seen {
		r.mu.Unlock()
		return false
	}
	r.discoveredSeen[d.ID] = struct{}{}
	r.discovered = append(r.discovered, d)
	r.mu.Unlock()

	r.Publish(Event{Type: EventDiscovered, DeviceID: d.ID, Device: &d})
	return true
}

// ClearDiscovered resets the session list and its de-duplication set.
func (r *Registry) ClearDiscovered() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.discovered = nil
	r.discoveredSeen = make(map[string]struct{})
}

// Discovered returns the session list in order of first sighting.
func (r *Registry) Discovered() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.discovered)
}

// --- connected set ---

// AddConnected inserts d into the connected set along with its service
// inventory. Returns false, changing nothing, if d.ID is already present.
func (r *Registry) AddConnected(d Device, services []Service) bool {
	added, _ := r.addConnected(d, services, false)
	return added
}

// AddConnectedIfUsable is AddConnected guarded by the adapter state: when
// the recorded state is not usable nothing changes and usable is false.
// The check and the insert happen under one lock, so a device cannot be
// added after a power-off has been recorded.
func (r *Registry) AddConnectedIfUsable(d Device, services []Service) (added, usable bool) {
	return r.addConnected(d, services, true)
}

func (r *Registry) addConnected(d Device, services []Service, requireUsable bool) (added, usable bool) {
	r.mu.Lock()
	if requireUsable && !r.adapterState.Usable() {
		r.mu.Unlock()
		return false, false
	}
	if r.indexConnectedLocked(d.ID) >= 0 {
		r.mu.Unlock()
		return false, true
	}
	r.connected = append(r.connected, connectedEntry{device: d, services: cloneServices(services)})
	r.mu.Unlock()

	r.Publish(Event{Type: EventConnected, DeviceID: d.ID, Device: &d})
	return true, true
}

// RemoveConnected removes id from the connected set.
// Returns false if id was not connected.
func (r *Registry) RemoveConnected(id string) bool {
	r.mu.Lock()
	i := r.indexConnectedLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	d := r.connected[i].device
	r.connected = slices.Delete(r.connected, i, i+1)
	r.mu.Unlock()

	r.Publish(Event{Type: EventDisconnected, DeviceID: id, Device: &d})
	return true
}

// ClearConnected empties the connected set and returns what was removed.
func (r *Registry) ClearConnected() []Device {
	r.mu.Lock()
	removed := make([]Device, 0, len(r.connected))
	for _, e := range r.connected {
		removed = append(removed, e.device)
	}
	r.connected = nil
	r.mu.Unlock()

	for i := range removed {
		d := removed[i]
		r.Publish(Event{Type: EventDisconnected, DeviceID: d.ID, Device: &d})
	}
	return removed
}

// IsConnected reports whether id is in the connected set.
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexConnectedLocked(id) >= 0
}

// Connected returns the connected devices in connection order.
func (r *Registry) Connected() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.connected))
	for _, e := range r.connected {
		devices = append(devices, e.device)
	}
	return devices
}

// ConnectedDevice returns the connected device with the given ID.
// Returns ErrDeviceNotFound if it is not connected.
func (r *Registry) ConnectedDevice(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexConnectedLocked(id)
	if i < 0 {
		return Device{}, ErrDeviceNotFound
	}
	return r.connected[i].device, nil
}

// Services returns the service inventory recorded when id connected.
// Returns ErrDeviceNotFound if id is not connected.
func (r *Registry) Services(id string) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexConnectedLocked(id)
	if i < 0 {
		return nil, ErrDeviceNotFound
	}
	return cloneServices(r.connected[i].services), nil
}

func (r *Registry) indexConnectedLocked(id string) int {
	for i := range r.connected {
		if r.connected[i].device.ID == id {
			return i
		}
	}
	return -1
}

// --- saved list ---

// SetSaved replaces the saved list, dropping duplicate IDs (first wins).
// Used once after the list is loaded from storage.
func (r *Registry) SetSaved(list []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = make([]Device, 0, len(list))
	r.savedSeen = make(map[string]struct{}, len(list))
	for _, d := range list {
		if _, dup := r.savedSeen[d.ID]; dup {
			continue
		}
		r.savedSeen[d.ID] = struct{}{}
		r.saved = append(r.saved, d)
	}
}

// AppendSaved appends d to the saved list if its ID is absent and returns
// the resulting list. Saved entries are never mutated or removed.
// The bool reports whether d was appended.
func (r *Registry) AppendSaved(d Device) ([]Device, bool) {
	r.mu.Lock()
	if _, exists := r.savedSeen[d.ID]; exists {
		r.mu.Unlock()
		return nil, false
	}
	r.savedSeen[d.ID] = struct{}{}
	r.saved = append(r.saved, d)
	list := slices.Clone(r.saved)
	r.mu.Unlock()

	r.Publish(Event{Type: EventSaved, DeviceID: d.ID, Device: &d})
	return list, true
}

// Saved returns the saved list in insertion order.
func (r *Registry) Saved() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.saved)
}

// IsSaved reports whether id is on the saved list.
func (r *Registry) IsSaved(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.savedSeen[id]
	return ok
}

// --- flags ---

// SetScanning records whether a scan session is active.
func (r *Registry) SetScanning(scanning bool) {
	r.mu.Lock()
	changed := r.scanning != scanning
	r.scanning = scanning
	r.mu.Unlock()

	if !changed {
		return
	}
	if scanning {
		r.Publish(Event{Type: EventScanStarted})
	} else {
		r.Publish(Event{Type: EventScanStopped})
	}
}

// Scanning reports whether a scan session is active.
func (r *Registry) Scanning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanning
}

// SetAutoPairing records whether an auto-pairing round is running.
func (r *Registry) SetAutoPairing(enabled bool) {
	r.mu.Lock()
	changed := r.autoPairing != enabled
	r.autoPairing = enabled
	r.mu.Unlock()

	if !changed {
		return
	}
	if enabled {
		r.Publish(Event{Type: EventAutoPairEnabled})
	} else {
		r.Publish(Event{Type: EventAutoPairDisabled})
	}
}

// AutoPairing reports whether an auto-pairing round is running.
func (r *Registry) AutoPairing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.autoPairing
}

// SetAdapterState records the radio power state.
func (r *Registry) SetAdapterState(state AdapterState) {
	r.mu.Lock()
	changed := r.adapterState != state
	r.adapterState = state
	r.mu.Unlock()

	if changed {
		r.Publish(Event{Type: EventAdapterState, AdapterState: state})
	}
}

// AdapterState returns the last recorded radio power state.
func (r *Registry) AdapterState() AdapterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapterState
}

// --- in-flight operations ---

// BeginOp registers an in-flight operation of kind for deviceID and
// returns its key. It refuses (ok == false) when an operation of the same
// kind is already in flight for that device.
func (r *Registry) BeginOp(kind OperationKind, deviceID string) (id uuid.UUID, ok bool) {
	r.mu.Lock()
	for _, op := range r.ops {
		if op.Kind == kind && op.DeviceID == deviceID {
			r.mu.Unlock()
			return uuid.Nil, false
		}
	}
	id = uuid.New()
	r.ops[id] = Operation{
		ID:        id,
		Kind:      kind,
		DeviceID:  deviceID,
		StartedAt: r.now(),
	}
	r.mu.Unlock()

	if kind == OpConnect {
		r.Publish(Event{Type: EventConnecting, DeviceID: deviceID})
	}
	return id, true
}

// EndOp removes the in-flight entry with the given key. Other entries,
// including other operations on the same device, are untouched.
func (r *Registry) EndOp(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, id)
}

// ConnectInFlight reports whether a connect to deviceID is in flight.
func (r *Registry) ConnectInFlight(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectInFlightLocked(deviceID)
}

func (r *Registry) connectInFlightLocked(deviceID string) bool {
	for _, op := range r.ops {
		if op.Kind == OpConnect && op.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// Connecting reports whether any connect is in flight.
func (r *Registry) Connecting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectingLocked()
}

func (r *Registry) connectingLocked() bool {
	for _, op := range r.ops {
		if op.Kind == OpConnect {
			return true
		}
	}
	return false
}

// Operations returns the in-flight operations, oldest first.
func (r *Registry) Operations() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operationsLocked()
}

func (r *Registry) operationsLocked() []Operation {
	ops := make([]Operation, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b Operation) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return ops
}

// State derives the connection state of id from set membership and the
// in-flight map. Connected wins over connecting.
func (r *Registry) State(id string) ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.indexConnectedLocked(id) >= 0:
		return StateConnected
	case r.connectInFlightLocked(id):
		return StateConnecting
	default:
		if _, seen := r.discoveredSeen[id]; seen {
			return StateDiscovered
		}
		return StateDisconnected
	}
}

// Snapshot returns a copy of the complete registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connected := make([]Device, 0, len(r.connected))
	for _, e := range r.connected {
		connected = append(connected, e.device)
	}

	return Snapshot{
		AdapterState: r.adapterState,
		Scanning:     r.scanning,
		AutoPairing:  r.autoPairing,
		Connecting:   r.connectingLocked(),
		Discovered:   append([]Device{}, r.discovered...),
		Connected:    connected,
		Saved:        append([]Device{}, r.saved...),
		Operations:   r.operationsLocked(),
	}
}

// --- notification ---

// Subscribe registers fn to receive every registry event and returns a
// function that removes it. fn runs on the mutating goroutine and must
// not block; hand work off to a channel.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Publish delivers e to all subscribers. Callers outside the registry use
// it for events that carry no state change, such as failed connects.
func (r *Registry) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}

	r.subMu.RLock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range subs {
		r.deliver(fn, e)
	}
}

func (r *Registry) deliver(fn func(Event), e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry subscriber panicked", "event", e.Type, "panic", rec)
		}
	}()
	fn(e)
}

func cloneServices(services []Service) []Service {
	if services == nil {
		return nil
	}
	out := make([]Service, len(services))
	for i, s := range services {
		out[i] = s
		out[i].Characteristics = slices.Clone(s.Characteristics)
	}
	return out
}
