package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// reconcileParallelism bounds concurrent connects during reconciliation.
const reconcileParallelism = 4

// Config holds the tunables of the link manager.
type Config struct {
	// AllowList names device IDs accepted during scans even without a name.
	AllowList []string

	// SavedListKey is the KV key holding the saved list.
	SavedListKey string

	// AutoPairOnPowerOn starts an auto-pairing round whenever the radio
	// powers on.
	AutoPairOnPowerOn bool

	// RoundTimeout bounds each auto-pairing round.
	RoundTimeout time.Duration

	// ConnectRate is the sustained connect attempts per second; zero
	// disables pacing. ConnectBurst is the bucket size.
	ConnectRate  float64
	ConnectBurst int

	DisconnectPolicy DisconnectPolicy

	// DisconnectOnShutdown drops every link during Shutdown.
	DisconnectOnShutdown bool
}

// Options configures a Service.
type Options struct {
	Radio     Radio
	KV        device.KVStore
	Config    Config
	Registry  *device.Registry // optional; a fresh one is created when nil
	Telemetry Telemetry        // optional
	Logger    Logger           // optional
}

// ReconcileReport summarises a reconciliation pass.
type ReconcileReport struct {
	Attempted        int `json:"attempted"`
	Connected        int `json:"connected"`
	AlreadyConnected int `json:"already_connected"`
	Failed           int `json:"failed"`
}

// Service owns the radio session and composes the scanner, orchestrator,
// auto-pairer and monitor over a single registry.
//
// Lifecycle: New, then Init, then Shutdown. Operations fail with
// ErrNotInitialised before Init and ErrServiceClosed after Shutdown.
type Service struct {
	radio    Radio
	registry *device.Registry
	saved    *device.SavedStore
	cfg      Config
	logger   Logger

	scanner  *Scanner
	orch     *Orchestrator
	autopair *AutoPairer
	monitor  *Monitor

	lifetime context.Context
	cancel   context.CancelFunc

	mu          sync.RWMutex
	initialised bool
	closed      bool
}

// New builds a Service from opts. Nothing touches the radio until Init.
func New(opts Options) (*Service, error) {
	if opts.Radio == nil {
		return nil, errors.New("ble: radio is required")
	}
	if opts.KV == nil {
		return nil, errors.New("ble: kv store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = device.NewRegistry()
	}

	saved := device.NewSavedStore(opts.KV, opts.Config.SavedListKey)
	saved.SetLogger(logger)

	var limiter *rate.Limiter
	if opts.Config.ConnectRate > 0 {
		burst := opts.Config.ConnectBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Config.ConnectRate), burst)
	}

	lifetime, cancel := context.WithCancel(context.Background())

	scanner := NewScanner(opts.Radio, registry, opts.Config.AllowList)
	scanner.SetLogger(logger)

	orch := NewOrchestrator(opts.Radio, registry, saved, limiter, opts.Config.DisconnectPolicy)
	orch.SetLogger(logger)
	orch.SetTelemetry(opts.Telemetry)

	autopair := NewAutoPairer(lifetime, scanner, orch, registry, opts.Config.RoundTimeout)
	autopair.SetLogger(logger)

	monitor := NewMonitor(opts.Radio, registry, scanner, autopair, orch, opts.Config.AutoPairOnPowerOn)
	monitor.SetLogger(logger)

	return &Service{
		radio:    opts.Radio,
		registry: registry,
		saved:    saved,
		cfg:      opts.Config,
		logger:   logger,
		scanner:  scanner,
		orch:     orch,
		autopair: autopair,
		monitor:  monitor,
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

// Init loads the saved list, records the adapter state, starts the power
// monitor and runs one reconciliation pass. Saved-list and reconciliation
// problems are logged, never fatal.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.initialised {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	list, err := s.saved.Load(ctx)
	if err != nil {
		s.logger.Warn("saved list unavailable, starting empty", "error", err)
	}
	s.registry.SetSaved(list)
	s.logger.Info("saved list loaded", "count", len(list))

	state, err := s.radio.State(ctx)
	if err != nil {
		s.logger.Warn("reading adapter state failed", "error", err)
		state = device.AdapterUnknown
	}
	s.registry.SetAdapterState(state)

	if err := s.monitor.Start(s.lifetime); err != nil {
		return fmt.Errorf("starting adapter monitor: %w", err)
	}

	s.mu.Lock()
	s.initialised = true
	s.mu.Unlock()

	report, err := s.Reconcile(ctx)
	switch {
	case errors.Is(err, ErrAdapterUnavailable):
		s.logger.Info("reconciliation skipped, adapter not powered on", "state", state)
	case err != nil:
		s.logger.Warn("reconciliation failed", "error", err)
	default:
		s.logger.Info("reconciliation complete",
			"attempted", report.Attempted,
			"connected", report.Connected,
			"already_connected", report.AlreadyConnected,
			"failed", report.Failed,
		)
	}
	return nil
}

// Reconcile connects every saved device that is not connected. It runs
// only when the adapter is powered on. Individual failures are counted,
// never fatal to the pass.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if err := s.ready(); err != nil {
		return report, err
	}
	if !s.registry.AdapterState().Usable() {
		return report, fmt.Errorf("%w: %s", ErrAdapterUnavailable, NoticeBluetoothOff)
	}

	var connected, already, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(reconcileParallelism)

	for _, d := range s.registry.Saved() {
		d := d
		if s.registry.IsConnected(d.ID) {
			continue
		}
		report.Attempted++
		g.Go(func() error {
			outcome, err := s.orch.Connect(ctx, d)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Warn("reconnect failed", "device_id", d.ID, "error", err)
			case outcome == OutcomeConnected:
				connected.Add(1)
			default:
				already.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are counted, not returned

	report.Connected = int(connected.Load())
	report.AlreadyConnected = int(already.Load())
	report.Failed = int(failed.Load())
	return report, nil
}

// Shutdown stops auto-pairing, scanning and the monitor, optionally drops
// every link, then waits (bounded by ctx) for dispatched connects.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasInitialised := s.initialised
	s.mu.Unlock()

	var errs []error
	if wasInitialised {
		s.autopair.Disable()
		if err := s.scanner.Halt(); err != nil {
			errs = append(errs, err)
		}
		s.monitor.Stop()

		if s.cfg.DisconnectOnShutdown {
			if err := s.orch.DisconnectAll(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.autopair.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for in-flight connects: %w", ctx.Err()))
	}

	s.logger.Info("ble service stopped")
	return errors.Join(errs...)
}

// StartScan starts (or joins) a user-owned scan session.
func (s *Service) StartScan(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.scanner.Start(ctx, OwnerUser)
}

// StopScan releases the user's hold on the scan session.
func (s *Service) StopScan() error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.scanner.Stop(OwnerUser)
}

// Connect links to d. A missing name is filled from the session list or
// the saved list.
func (s *Service) Connect(ctx context.Context, d device.Device) (Outcome, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if d.Name == "" {
		d.Name = s.lookupName(d.ID)
	}
	return s.orch.Connect(ctx, d)
}

// Disconnect drops the link to id.
func (s *Service) Disconnect(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.orch.Disconnect(ctx, id)
}

// DisconnectAll drops every link.
func (s *Service) DisconnectAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.orch.DisconnectAll(ctx)
}

// ToggleAutoPairing starts or ends an auto-pairing round and reports
// whether one is now running.
func (s *Service) ToggleAutoPairing(ctx context.Context) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.autopair.Toggle(ctx)
}

// Registry exposes the read model and change notifications.
func (s *Service) Registry() *device.Registry {
	return s.registry
}

// Sighting returns the latest signal data for id.
func (s *Service) Sighting(id string) (Sighting, bool) {
	return s.scanner.Sighting(id)
}

// ScanOwners returns who currently holds the scan session.
func (s *Service) ScanOwners() []string {
	return s.scanner.Owners()
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.closed:
		return ErrServiceClosed
	case !s.initialised:
		return ErrNotInitialised
	default:
		return nil
	}
}

func (s *Service) lookupName(id string) string {
	for _, d := range s.registry.Discovered() {
		if d.ID == id {
			return d.Name
		}
	}
	for _, d := range s.registry.Saved() {
		if d.ID == id {
			return d.Name
		}
	}
	return ""
}
