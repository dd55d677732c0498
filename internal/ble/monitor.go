package ble

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// stateQueueSize is the buffer between radio callbacks and the monitor loop.
const stateQueueSize = 16

// Monitor reacts to radio power transitions, one at a time and in order.
//
// On PoweredOn it records the state and optionally starts an auto-pairing
// round. On anything else it ends the round, halts the scanner and
// disconnects everything; if that disconnect reports failure the
// connected set is cleared anyway, since no link survives an unpowered
// radio.
type Monitor struct {
	radio     Radio
	registry  *device.Registry
	scanner   *Scanner
	autopair  *AutoPairer
	orch      *Orchestrator
	onPowerOn bool
	logger    Logger

	states      chan device.AdapterState
	done        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	unsubscribe func()
}

// NewMonitor creates a monitor. With autoPairOnPowerOn set, every
// transition to PoweredOn starts an auto-pairing round.
func NewMonitor(radio Radio, registry *device.Registry, scanner *Scanner, autopair *AutoPairer, orch *Orchestrator, autoPairOnPowerOn bool) *Monitor {
	return &Monitor{
		radio:     radio,
		registry:  registry,
		scanner:   scanner,
		autopair:  autopair,
		orch:      orch,
		onPowerOn: autoPairOnPowerOn,
		logger:    noopLogger{},
		states:    make(chan device.AdapterState, stateQueueSize),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Start subscribes to power-state changes, including the current state,
// and begins processing them. ctx is used for the actions taken on each
// transition and should live as long as the monitor.
func (m *Monitor) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.loop(ctx)

	unsubscribe, err := m.radio.SubscribeState(m.enqueue, true)
	if err != nil {
		m.Stop()
		return err
	}
	m.unsubscribe = unsubscribe
	return nil
}

// Stop unsubscribes and waits for the loop to exit. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		close(m.done)
		m.wg.Wait()
	})
}

// enqueue is the radio callback. It blocks while the queue is full so no
// transition is dropped.
func (m *Monitor) enqueue(state device.AdapterState) {
	select {
	case m.states <- state:
	case <-m.done:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case state := <-m.states:
			m.handle(ctx, state)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, state device.AdapterState) {
	prev := m.registry.AdapterState()
	m.registry.SetAdapterState(state)
	m.logger.Info("adapter state", "state", state, "previous", prev)

	if state.Usable() {
		if m.onPowerOn {
			if err := m.autopair.Enable(ctx); err != nil {
				m.logger.Warn("auto-pairing on power-on failed", "error", err)
			}
		}
		return
	}

	m.autopair.Disable()
	if err := m.scanner.Halt(); err != nil {
		m.logger.Warn("halting scanner failed", "error", err)
	}
	if err := m.orch.DisconnectAll(ctx); err != nil {
		removed := m.registry.ClearConnected()
		m.logger.Warn("disconnect on power loss failed, cleared connected set",
			"state", state, "cleared", len(removed), "error", err)
	}
}
