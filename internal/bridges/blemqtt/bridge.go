package blemqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/ble"
	"github.com/nerrad567/gray-logic-ble/internal/device"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/mqtt"
)

const (
	// eventQueueSize buffers registry events between the publisher
	// goroutine and the goroutines that produce them.
	eventQueueSize = 256

	// commandTimeout bounds a single command, including a full connect
	// with service discovery.
	commandTimeout = 60 * time.Second

	// stateCacheSize is the number of device state payloads remembered
	// for duplicate suppression.
	stateCacheSize = 1024

	qosAtLeastOnce = 1
)

// Controller is the lifecycle surface the bridge drives.
// *ble.Service satisfies it.
type Controller interface {
	StartScan(ctx context.Context) error
	StopScan() error
	Connect(ctx context.Context, d device.Device) (ble.Outcome, error)
	Disconnect(ctx context.Context, id string) error
	DisconnectAll(ctx context.Context) error
	ToggleAutoPairing(ctx context.Context) (bool, error)
	Registry() *device.Registry
}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Auditor records executed commands. *audit.Recorder satisfies it.
type Auditor interface {
	Record(e *audit.Entry)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the bridge's collaborators.
type Options struct {
	Controller     Controller
	MQTT           MQTTClient
	Version        string
	HealthInterval time.Duration
	Logger         Logger
	Audit          Auditor // optional
}

// Bridge mirrors the link manager onto MQTT: registry events become state
// and event messages, and command topics drive the controller.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	ctrl     Controller
	registry *device.Registry
	mqtt     MQTTClient
	health   *HealthReporter
	topics   mqtt.Topics
	logger   Logger
	audit    Auditor

	events      chan device.Event
	unsubscribe func()

	// lastState suppresses republishing an unchanged retained state.
	lastState   *lru.Cache
	lastStateMu sync.Mutex

	// cmdMu orders command dispatch against Stop so no goroutine is
	// added to wg once Stop has begun waiting.
	cmdMu   sync.Mutex
	stopped bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:      opts.Controller,
		registry:  opts.Controller.Registry(),
		mqtt:      opts.MQTT,
		logger:    logger,
		audit:     opts.Audit,
		events:    make(chan device.Event, eventQueueSize),
		lastState: lru.New(stateCacheSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Registry:  b.registry,
	})
	b.health.SetLogger(logger)

	return b, nil
}

// Start subscribes to commands, mirrors the current registry contents and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.unsubscribe = b.registry.Subscribe(b.enqueue)

	b.wg.Add(1)
	go b.run()

	commandTopic := b.topics.BridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	snap := b.registry.Snapshot()
	for _, d := range snap.Connected {
		b.publishState(d.ID)
	}
	for _, d := range snap.Saved {
		b.publishState(d.ID)
	}

	b.health.Start(ctx)

	b.logger.Info("bridge started", "connected", len(snap.Connected), "saved", len(snap.Saved))
	return nil
}

// Stop cancels in-flight commands, stops health reporting and waits for
// the bridge's goroutines. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cmdMu.Lock()
		b.stopped = true
		b.cmdMu.Unlock()

		close(b.done)
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.cancel()
		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// enqueue is the registry subscriber. It never blocks the publisher of
// the event; when the queue is full the event is dropped and the next
// state message for that device carries the current state anyway.
func (b *Bridge) enqueue(e device.Event) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.events <- e:
	default:
		b.logger.Warn("event queue full, dropping event", "type", e.Type, "device_id", e.DeviceID)
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case e := <-b.events:
			b.forward(e)
		}
	}
}

// forward publishes an event and, for device events, the device's state.
func (b *Bridge) forward(e device.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("failed to marshal event", "type", e.Type, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CoreEvent(string(e.Type)), payload, qosAtLeastOnce, false); err != nil {
		b.logger.Warn("failed to publish event", "type", e.Type, "error", err)
	}

	if e.DeviceID != "" {
		b.publishState(e.DeviceID)
	}
	if e.Type == device.EventAdapterState {
		if err := b.health.PublishNow(); err != nil {
			b.logger.Warn("failed to publish health", "error", err)
		}
	}
}

// stateFor builds the current state message for id.
func (b *Bridge) stateFor(id string) StateMessage {
	msg := StateMessage{
		DeviceID:  id,
		State:     b.registry.State(id),
		Saved:     b.registry.IsSaved(id),
		Protocol:  Protocol,
		Timestamp: time.Now().UTC(),
	}

	name := ""
	if d, err := b.registry.ConnectedDevice(id); err == nil {
		name = d.Name
		msg.Services, _ = b.registry.Services(id) //nolint:errcheck // connected above; a race only loses the inventory
	} else {
		name = lookupName(id, b.registry.Saved(), b.registry.Discovered())
	}
	msg.Name = device.Device{ID: id, Name: name}.DisplayName()

	return msg
}

func lookupName(id string, lists ...[]device.Device) string {
	for _, list := range lists {
		for _, d := range list {
			if d.ID == id && d.Name != "" {
				return d.Name
			}
		}
	}
	return ""
}

// publishState publishes the retained state for id unless it matches the
// last state published for that device.
func (b *Bridge) publishState(id string) {
	msg := b.stateFor(id)
	topic := b.topics.BridgeState(Protocol, id)

	fingerprint := msg
	fingerprint.Timestamp = time.Time{}
	key, err := json.Marshal(fingerprint)
	if err != nil {
		b.logger.Error("failed to marshal state", "device_id", id, "error", err)
		return
	}

	b.lastStateMu.Lock()
	if prev, ok := b.lastState.Get(topic); ok && prev.(string) == string(key) {
		b.lastStateMu.Unlock()
		return
	}
	b.lastStateMu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal state", "device_id", id, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, true); err != nil {
		b.logger.Warn("failed to publish state", "device_id", id, "error", err)
		return
	}

	b.lastStateMu.Lock()
	b.lastState.Add(topic, string(key))
	b.lastStateMu.Unlock()
}

// handleMessage is the MQTT handler for command topics. Commands run on
// their own goroutine so a slow connect never blocks the MQTT client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	category, protocol, target, ok := mqtt.ParseBridgeTopic(topic)
	if !ok || category != mqtt.CategoryCommand || protocol != Protocol {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidCommand, topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		b.publishAck(target, cmd, nil, err)
		return err
	}

	b.cmdMu.Lock()
	if b.stopped {
		b.cmdMu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.cmdMu.Unlock()

	b.logger.Info("received command", "command_id", cmd.ID, "target", target, "command", cmd.Command)

	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()

		result, err := b.execute(ctx, target, cmd)
		if err != nil {
			b.logger.Warn("command failed", "command_id", cmd.ID, "target", target, "command", cmd.Command, "error", err)
		}
		b.auditCommand(target, cmd, err)
		b.publishAck(target, cmd, result, err)
	}()
	return nil
}

// execute runs one command against the controller.
func (b *Bridge) execute(ctx context.Context, target string, cmd CommandMessage) (map[string]any, error) {
	if target == AdapterTarget {
		switch cmd.Command {
		case CommandScanStart:
			return nil, b.ctrl.StartScan(ctx)
		case CommandScanStop:
			return nil, b.ctrl.StopScan()
		case CommandDisconnectAll:
			return nil, b.ctrl.DisconnectAll(ctx)
		case CommandAutoPairToggle:
			running, err := b.ctrl.ToggleAutoPairing(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"auto_pairing": running}, nil
		default:
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidCommand, cmd.Command, target)
		}
	}

	id := device.NormalizeID(target)
	if err := device.ValidateID(id); err != nil {
		return nil, err
	}

	switch cmd.Command {
	case CommandConnect:
		name, _ := cmd.Parameters["name"].(string)
		outcome, err := b.ctrl.Connect(ctx, device.Device{ID: id, Name: name})
		if err != nil {
			return nil, err
		}
		return map[string]any{"outcome": outcome, "notice": outcome.Notice()}, nil
	case CommandDisconnect:
		return nil, b.ctrl.Disconnect(ctx, id)
	default:
		return nil, fmt.Errorf("%w: %q for device", ErrInvalidCommand, cmd.Command)
	}
}

func (b *Bridge) auditCommand(target string, cmd CommandMessage, err error) {
	if b.audit == nil || errors.Is(err, ErrInvalidCommand) {
		return
	}

	deviceID := ""
	if target != AdapterTarget {
		deviceID = device.NormalizeID(target)
	}
	entry := audit.NewEntry(audit.Action(cmd.Command), audit.SourceMQTT, deviceID, cmd.UserID, err)
	entry.Details = map[string]any{"command_id": cmd.ID}
	if cmd.Source != "" {
		entry.Details["origin"] = cmd.Source
	}
	b.audit.Record(entry)
}

func (b *Bridge) publishAck(target string, cmd CommandMessage, result map[string]any, err error) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Target:    target,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
		Result:    result,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
	}

	payload, mErr := json.Marshal(ack)
	if mErr != nil {
		b.logger.Error("failed to marshal ack", "command_id", cmd.ID, "error", mErr)
		return
	}
	if pErr := b.mqtt.Publish(b.topics.BridgeAck(Protocol, target), payload, qosAtLeastOnce, false); pErr != nil {
		b.logger.Warn("failed to publish ack", "command_id", cmd.ID, "error", pErr)
	}
}
