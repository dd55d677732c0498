package device

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnnamedDevice is the display name used when a peripheral advertises no name.
const UnnamedDevice = "Unnamed Device"

// Device is a BLE peripheral as observed in a scan or restored from the
// saved list.
//
// ID is the stable hardware identifier the radio reports (a MAC address on
// Linux). Name is whatever the peripheral advertised and may be empty.
// A Device is immutable once recorded in a session.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the advertised name, or UnnamedDevice when empty.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return UnnamedDevice
	}
	return d.Name
}

// Characteristic is a GATT characteristic found during service discovery.
type Characteristic struct {
	UUID  string `json:"uuid"`
	Label string `json:"label,omitempty"`
}

// Service is a GATT service with its characteristics.
type Service struct {
	UUID            string           `json:"uuid"`
	Label           string           `json:"label,omitempty"`
	Characteristics []Characteristic `json:"characteristics,omitempty"`
}

// AdapterState is the power state reported by the local radio.
// Only AdapterPoweredOn is usable; every other value means the radio
// cannot scan or hold links.
type AdapterState string

// Adapter states.
const (
	AdapterPoweredOn    AdapterState = "PoweredOn"
	AdapterPoweredOff   AdapterState = "PoweredOff"
	AdapterResetting    AdapterState = "Resetting"
	AdapterUnauthorized AdapterState = "Unauthorized"
	AdapterUnsupported  AdapterState = "Unsupported"
	AdapterUnknown      AdapterState = "Unknown"
)

// Usable reports whether the radio can be used for scanning and links.
func (s AdapterState) Usable() bool {
	return s == AdapterPoweredOn
}

// ConnectionState is the derived link state of a single device.
type ConnectionState string

// Connection states.
const (
	StateDiscovered   ConnectionState = "discovered"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// OperationKind identifies the radio operation an in-flight entry tracks.
type OperationKind string

// Operation kinds.
const (
	OpConnect    OperationKind = "connect"
	OpDisconnect OperationKind = "disconnect"
)

// Operation is a single in-flight radio operation. Each has its own key,
// so concurrent connects to different devices never share an indicator.
type Operation struct {
	ID        uuid.UUID     `json:"id"`
	Kind      OperationKind `json:"kind"`
	DeviceID  string        `json:"device_id"`
	StartedAt time.Time     `json:"started_at"`
}

// EventType names a registry change. The prefix before the dot is the
// channel WebSocket clients subscribe to.
type EventType string

// Event types.
const (
	EventDiscovered    EventType = "device.discovered"
	EventConnecting    EventType = "device.connecting"
	EventConnected     EventType = "device.connected"
	EventConnectFailed EventType = "device.connect_failed"
	EventDisconnected  EventType = "device.disconnected"
	EventSaved         EventType = "device.saved"

	EventScanStarted EventType = "scan.started"
	EventScanStopped EventType = "scan.stopped"
	EventScanFailed  EventType = "scan.failed"

	EventAdapterState EventType = "adapter.state"

	EventAutoPairEnabled  EventType = "autopair.enabled"
	EventAutoPairDisabled EventType = "autopair.disabled"
)

// Event describes a single change to the registry.
type Event struct {
	Type         EventType    `json:"type"`
	DeviceID     string       `json:"device_id,omitempty"`
	Device       *Device      `json:"device,omitempty"`
	AdapterState AdapterState `json:"adapter_state,omitempty"`
	Error        string       `json:"error,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Channel returns the event's subscription channel ("device", "scan", ...).
func (e Event) Channel() string {
	channel, _, _ := strings.Cut(string(e.Type), ".")
	return channel
}

// Snapshot is a point-in-time copy of the whole registry.
type Snapshot struct {
	AdapterState AdapterState `json:"adapter_state"`
	Scanning     bool         `json:"scanning"`
	AutoPairing  bool         `json:"auto_pairing"`
	Connecting   bool         `json:"connecting"`
	Discovered   []Device     `json:"discovered"`
	Connected    []Device     `json:"connected"`
	Saved        []Device     `json:"saved"`
	Operations   []Operation  `json:"operations"`
}
