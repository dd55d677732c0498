package ble

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// DefaultRoundTimeout is how long an auto-pairing round scans before it
// ends by itself.
const DefaultRoundTimeout = 30 * time.Second

// connector is the part of the Orchestrator the auto-pairer drives.
type connector interface {
	Connect(ctx context.Context, d device.Device) (Outcome, error)
}

// AutoPairer runs timed rounds that reconnect saved devices as they
// advertise.
//
// While a round runs, each accepted device that is saved, not connected
// and not yet attempted this round gets one connect attempt. Connects use
// the lifetime context, so ending a round does not cancel them.
type AutoPairer struct {
	scanner   *Scanner
	connector connector
	registry  *device.Registry
	timeout   time.Duration
	lifetime  context.Context
	logger    Logger

	// opMu serialises round start and end. mu must not be held across
	// scanner calls: StopScan waits for scan callbacks, which take mu.
	opMu sync.Mutex

	mu        sync.Mutex
	running   bool
	round     uuid.UUID
	attempted map[string]struct{}
	timer     *time.Timer

	// inflight tracks dispatched connects.
	inflight sync.WaitGroup
}

// NewAutoPairer creates an auto-pairer. lifetime is the context dispatched
// connects run under. A non-positive timeout selects DefaultRoundTimeout.
func NewAutoPairer(lifetime context.Context, scanner *Scanner, conn connector, registry *device.Registry, timeout time.Duration) *AutoPairer {
	if timeout <= 0 {
		timeout = DefaultRoundTimeout
	}
	ap := &AutoPairer{
		scanner:   scanner,
		connector: conn,
		registry:  registry,
		timeout:   timeout,
		lifetime:  lifetime,
		logger:    noopLogger{},
	}
	scanner.Listen(ap.onDevice, ap.onScanError)
	return ap
}

// SetLogger sets the logger for the auto-pairer.
func (ap *AutoPairer) SetLogger(logger Logger) {
	ap.logger = logger
}

// Enable starts a round: it resets the attempted set, acquires the scanner
// and arms the round timer. A no-op while a round is running. If the scan
// cannot start the auto-pairer stays idle and the error is returned.
func (ap *AutoPairer) Enable(ctx context.Context) error {
	ap.opMu.Lock()
	defer ap.opMu.Unlock()
	return ap.enable(ctx)
}

func (ap *AutoPairer) enable(ctx context.Context) error {
	if ap.Running() {
		return nil
	}

	if err := ap.scanner.Start(ctx, OwnerAutoPair); err != nil {
		ap.logger.Warn("auto-pairing not started", "error", err)
		return err
	}

	ap.mu.Lock()
	ap.running = true
	ap.round = uuid.New()
	ap.attempted = make(map[string]struct{})
	round := ap.round
	ap.timer = time.AfterFunc(ap.timeout, func() { ap.expire(round) })
	ap.mu.Unlock()

	ap.registry.SetAutoPairing(true)
	ap.logger.Info("auto-pairing round started", "round", round, "timeout", ap.timeout)
	return nil
}

// Disable ends the current round. A no-op when idle.
func (ap *AutoPairer) Disable() {
	ap.opMu.Lock()
	defer ap.opMu.Unlock()
	ap.end(uuid.Nil, "disabled")
}

// Toggle switches between running and idle and returns whether a round
// is now running.
func (ap *AutoPairer) Toggle(ctx context.Context) (bool, error) {
	ap.opMu.Lock()
	defer ap.opMu.Unlock()

	if ap.Running() {
		ap.end(uuid.Nil, "disabled")
		return false, nil
	}
	if err := ap.enable(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Running reports whether a round is in progress.
func (ap *AutoPairer) Running() bool {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.running
}

// Round returns the current round ID, or uuid.Nil when idle.
func (ap *AutoPairer) Round() uuid.UUID {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.round
}

// Wait blocks until all dispatched connects have returned.
func (ap *AutoPairer) Wait() {
	ap.inflight.Wait()
}

// expire ends round if it is still the current one.
func (ap *AutoPairer) expire(round uuid.UUID) {
	ap.opMu.Lock()
	defer ap.opMu.Unlock()
	ap.end(round, "timeout")
}

// end stops the running round, or only the given one when round is not
// uuid.Nil. The caller holds opMu.
func (ap *AutoPairer) end(round uuid.UUID, reason string) {
	ap.mu.Lock()
	if !ap.running || (round != uuid.Nil && ap.round != round) {
		ap.mu.Unlock()
		return
	}
	ended := ap.round
	ap.running = false
	ap.round = uuid.Nil
	ap.attempted = nil
	if ap.timer != nil {
		ap.timer.Stop()
		ap.timer = nil
	}
	ap.mu.Unlock()

	if err := ap.scanner.Stop(OwnerAutoPair); err != nil {
		ap.logger.Warn("releasing scanner failed", "error", err)
	}
	ap.registry.SetAutoPairing(false)
	ap.logger.Info("auto-pairing round ended", "round", ended, "reason", reason)
}

// onDevice is the scanner listener.
func (ap *AutoPairer) onDevice(d device.Device) {
	ap.mu.Lock()
	if !ap.running {
		ap.mu.Unlock()
		return
	}
	if !ap.registry.IsSaved(d.ID) || ap.registry.IsConnected(d.ID) {
		ap.mu.Unlock()
		return
	}
	if _, tried := ap.attempted[d.ID]; tried {
		ap.mu.Unlock()
		return
	}
	ap.attempted[d.ID] = struct{}{}
	round := ap.round
	ap.inflight.Add(1)
	ap.mu.Unlock()

	go func() {
		defer ap.inflight.Done()

		outcome, err := ap.connector.Connect(ap.lifetime, d)
		if err != nil {
			ap.logger.Warn("auto-pair connect failed", "device_id", d.ID, "round", round, "error", err)
			return
		}
		ap.logger.Info("auto-pair connect", "device_id", d.ID, "round", round, "outcome", outcome)
	}()
}

// onScanError ends the round when the scan fails. The scanner has already
// ended the session, so releasing it here does not touch the radio.
func (ap *AutoPairer) onScanError(err error) {
	ap.opMu.Lock()
	defer ap.opMu.Unlock()

	if ap.Running() {
		ap.logger.Warn("scan failed during auto-pairing", "error", err)
		ap.end(uuid.Nil, "scan failure")
	}
}
