package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Outcome is the non-error result of a connect request.
type Outcome string

// Connect outcomes.
const (
	OutcomeConnected        Outcome = "connected"
	OutcomeAlreadyConnected Outcome = "already_connected"
	OutcomeInProgress       Outcome = "in_progress"
)

// Notice returns the user-facing message for the outcome.
func (o Outcome) Notice() string {
	switch o {
	case OutcomeConnected:
		return "Connected"
	case OutcomeAlreadyConnected:
		return NoticeAlreadyConnected
	case OutcomeInProgress:
		return "Connection in progress"
	default:
		return string(o)
	}
}

// DisconnectPolicy selects how DisconnectAll accounts for partial failure.
type DisconnectPolicy string

// Disconnect policies.
const (
	// PolicyPerDevice removes each device whose cancel succeeded.
	PolicyPerDevice DisconnectPolicy = "per_device"

	// PolicyAllOrNothing clears the set only when every cancel succeeded.
	PolicyAllOrNothing DisconnectPolicy = "all_or_nothing"
)

// Link telemetry event names.
const (
	linkEventConnect    = "connect"
	linkEventDisconnect = "disconnect"
)

// Orchestrator performs connects and disconnects and keeps the registry
// and the saved list in step with the radio.
type Orchestrator struct {
	radio     Radio
	registry  *device.Registry
	saved     *device.SavedStore
	limiter   *rate.Limiter
	policy    DisconnectPolicy
	telemetry Telemetry
	logger    Logger

	// saveMu serialises append-and-persist so each write carries every
	// earlier append.
	saveMu sync.Mutex
}

// NewOrchestrator creates an orchestrator. A nil limiter means connects
// are not paced.
func NewOrchestrator(radio Radio, registry *device.Registry, saved *device.SavedStore, limiter *rate.Limiter, policy DisconnectPolicy) *Orchestrator {
	if policy == "" {
		policy = PolicyPerDevice
	}
	return &Orchestrator{
		radio:     radio,
		registry:  registry,
		saved:     saved,
		limiter:   limiter,
		policy:    policy,
		telemetry: noopTelemetry{},
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// SetTelemetry sets the link telemetry sink.
func (o *Orchestrator) SetTelemetry(t Telemetry) {
	if t == nil {
		t = noopTelemetry{}
	}
	o.telemetry = t
}

// Connect links to d.
//
// Already-connected and already-connecting devices short-circuit with an
// outcome and no side effects. On success d joins the connected set with
// its service inventory and, the first time, the saved list. A failure to
// persist the saved list is logged and does not fail the connect. A link
// that completes after the adapter has been recorded as off is cancelled
// and reported as ErrAdapterUnavailable.
func (o *Orchestrator) Connect(ctx context.Context, d device.Device) (Outcome, error) {
	if o.registry.IsConnected(d.ID) {
		return OutcomeAlreadyConnected, nil
	}
	if o.registry.ConnectInFlight(d.ID) {
		return OutcomeInProgress, nil
	}
	if !o.registry.AdapterState().Usable() {
		return "", fmt.Errorf("%w: %s", ErrAdapterUnavailable, NoticeBluetoothOff)
	}

	opID, ok := o.registry.BeginOp(device.OpConnect, d.ID)
	if !ok {
		return OutcomeInProgress, nil
	}
	defer o.registry.EndOp(opID)

	start := time.Now()
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", o.connectFailed(d, start, err)
		}
	}

	o.logger.Debug("connecting", "device_id", d.ID, "op_id", opID)

	peripheral, err := o.radio.Connect(ctx, d.ID)
	if err != nil {
		return "", o.connectFailed(d, start, err)
	}

	services, err := peripheral.DiscoverServicesAndCharacteristics(ctx)
	if err != nil {
		if cancelErr := o.radio.CancelConnection(context.WithoutCancel(ctx), d.ID); cancelErr != nil {
			o.logger.Warn("cancelling half-open link failed", "device_id", d.ID, "error", cancelErr)
		}
		return "", o.connectFailed(d, start, fmt.Errorf("discovering services: %w", err))
	}

	added, usable := o.registry.AddConnectedIfUsable(d, device.FilterServices(services))
	if !usable {
		// Power dropped while the link was being set up.
		if cancelErr := o.radio.CancelConnection(context.WithoutCancel(ctx), d.ID); cancelErr != nil {
			o.logger.Warn("cancelling link after power loss failed", "device_id", d.ID, "error", cancelErr)
		}
		return "", o.connectFailed(d, start, fmt.Errorf("%w: %s", ErrAdapterUnavailable, NoticeBluetoothOff))
	}
	if !added {
		return OutcomeAlreadyConnected, nil
	}
	o.telemetry.WriteLinkEvent(d.ID, linkEventConnect, string(OutcomeConnected), time.Since(start))
	o.logger.Info("device connected", "device_id", d.ID, "name", d.DisplayName(), "services", len(services))

	o.persistIfNew(context.WithoutCancel(ctx), d)
	return OutcomeConnected, nil
}

func (o *Orchestrator) connectFailed(d device.Device, start time.Time, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrConnectionFailure, d.ID, cause)
	o.logger.Warn("connect failed", "device_id", d.ID, "error", cause)
	o.telemetry.WriteLinkEvent(d.ID, linkEventConnect, "failed", time.Since(start))
	o.registry.Publish(device.Event{
		Type:     device.EventConnectFailed,
		DeviceID: d.ID,
		Device:   &d,
		Error:    cause.Error(),
	})
	return err
}

// persistIfNew appends d to the saved list when absent and writes the
// full list through the saved store.
func (o *Orchestrator) persistIfNew(ctx context.Context, d device.Device) {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	list, added := o.registry.AppendSaved(d)
	if !added {
		return
	}
	if o.saved == nil {
		return
	}
	if err := o.saved.Save(ctx, list); err != nil {
		o.logger.Error("persisting saved list failed", "device_id", d.ID, "error", err)
		return
	}
	o.logger.Info("device saved", "device_id", d.ID, "saved", len(list))
}

// Disconnect cancels the link to id and removes it from the connected set.
// On failure the set is unchanged.
func (o *Orchestrator) Disconnect(ctx context.Context, id string) error {
	opID, ok := o.registry.BeginOp(device.OpDisconnect, id)
	if !ok {
		return fmt.Errorf("%w: disconnect %s", ErrOperationInProgress, id)
	}
	defer o.registry.EndOp(opID)

	start := time.Now()
	if err := o.radio.CancelConnection(ctx, id); err != nil {
		o.telemetry.WriteLinkEvent(id, linkEventDisconnect, "failed", time.Since(start))
		o.logger.Warn("disconnect failed", "device_id", id, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrDisconnectionFailure, id, err)
	}

	o.registry.RemoveConnected(id)
	o.telemetry.WriteLinkEvent(id, linkEventDisconnect, "ok", time.Since(start))
	o.logger.Info("device disconnected", "device_id", id)
	return nil
}

// DisconnectAll cancels every connected link concurrently and waits for
// all of them to settle. An empty set succeeds trivially. How partial
// failure affects the connected set depends on the policy.
func (o *Orchestrator) DisconnectAll(ctx context.Context) error {
	devices := o.registry.Connected()
	if len(devices) == 0 {
		return nil
	}

	results := make([]error, len(devices))
	var g errgroup.Group
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			start := time.Now()
			err := o.radio.CancelConnection(ctx, d.ID)
			outcome := "ok"
			if err != nil {
				outcome = "failed"
				results[i] = fmt.Errorf("%s: %w", d.ID, err)
			}
			o.telemetry.WriteLinkEvent(d.ID, linkEventDisconnect, outcome, time.Since(start))
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // per-device errors are collected in results

	var failures []error
	for _, err := range results {
		if err != nil {
			failures = append(failures, err)
		}
	}

	switch {
	case len(failures) == 0:
		for _, d := range devices {
			o.registry.RemoveConnected(d.ID)
		}
		o.logger.Info("all devices disconnected", "count", len(devices))
		return nil

	case o.policy == PolicyAllOrNothing:
		o.logger.Warn("disconnect all failed, connected set unchanged",
			"failed", len(failures), "total", len(devices))

	default:
		for i, d := range devices {
			if results[i] == nil {
				o.registry.RemoveConnected(d.ID)
			}
		}
		o.logger.Warn("disconnect all partially failed",
			"failed", len(failures), "total", len(devices))
	}

	return fmt.Errorf("%w: %w", ErrDisconnectionFailure, errors.Join(failures...))
}
