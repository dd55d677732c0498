package ble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Scan owners.
const (
	OwnerUser     = "user"
	OwnerAutoPair = "autopair"
)

// sightingCacheSize bounds the number of devices whose signal data is kept.
const sightingCacheSize = 512

// Sighting is the latest signal data for an accepted device.
type Sighting struct {
	Device   device.Device `json:"device"`
	RSSI     int16         `json:"rssi"`
	LastSeen time.Time     `json:"last_seen"`
	Count    int           `json:"count"`
}

type scanListener struct {
	onDevice func(device.Device)
	onError  func(error)
}

// Scanner runs the shared scan session.
//
// Several owners (the user, the auto-pairer) can hold the session at
// once; it starts with the first owner and stops when the last releases
// it. Advertisements are filtered, recorded in the registry once per
// session and passed to listeners in delivery order.
type Scanner struct {
	radio    Radio
	registry *device.Registry
	allow    map[string]struct{}
	logger   Logger

	// deliverMu serialises advertisement handling so listeners see
	// delivery order.
	deliverMu sync.Mutex

	mu        sync.Mutex
	active    bool
	session   uint64
	owners    map[string]struct{}
	listeners map[int]scanListener
	nextID    int

	sightings *lru.Cache[string, Sighting]
	now       func() time.Time
}

// NewScanner creates a scanner. allowList names IDs accepted even when
// they advertise no name.
func NewScanner(radio Radio, registry *device.Registry, allowList []string) *Scanner {
	allow := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allow[device.NormalizeID(id)] = struct{}{}
	}

	// lru.New only fails on a non-positive size.
	sightings, _ := lru.New[string, Sighting](sightingCacheSize) //nolint:errcheck // constant size

	return &Scanner{
		radio:     radio,
		registry:  registry,
		allow:     allow,
		logger:    noopLogger{},
		owners:    make(map[string]struct{}),
		listeners: make(map[int]scanListener),
		sightings: sightings,
		now:       time.Now,
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// Listen registers callbacks for accepted devices and scan failures.
// Either may be nil. The returned function removes the registration.
func (s *Scanner) Listen(onDevice func(device.Device), onError func(error)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = scanListener{onDevice: onDevice, onError: onError}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Start acquires the scan session for owner.
//
// If no session is active it clears the session device list and asks the
// radio for continuous delivery. If one is already active, owner is
// simply added. Fails with ErrAdapterUnavailable, without touching the
// radio, unless the adapter is powered on.
func (s *Scanner) Start(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.AdapterState().Usable() {
		return fmt.Errorf("%w: %s", ErrAdapterUnavailable, NoticeBluetoothOff)
	}

	if s.active {
		s.owners[owner] = struct{}{}
		s.logger.Debug("scan owner added", "owner", owner, "owners", len(s.owners))
		return nil
	}

	s.registry.ClearDiscovered()
	s.session++
	session := s.session

	err := s.radio.StartScan(ctx, nil, ScanOptions{AllowDuplicates: true}, func(ad Advertisement, err error) {
		s.handle(session, ad, err)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScanFailure, err)
	}

	s.active = true
	s.owners = map[string]struct{}{owner: {}}
	s.registry.SetScanning(true)
	s.logger.Info("scan started", "owner", owner)
	return nil
}

// Stop releases owner's hold on the session. The radio scan stops when no
// owners remain. Releasing an owner that holds nothing is a no-op.
func (s *Scanner) Stop(owner string) error {
	s.mu.Lock()
	if _, held := s.owners[owner]; !held {
		s.mu.Unlock()
		return nil
	}
	delete(s.owners, owner)
	if !s.active || len(s.owners) > 0 {
		s.mu.Unlock()
		return nil
	}
	s.endSessionLocked()
	s.mu.Unlock()

	s.logger.Info("scan stopped", "owner", owner)
	return s.stopRadio()
}

// Halt stops the session for all owners.
func (s *Scanner) Halt() error {
	s.mu.Lock()
	if !s.active {
		s.owners = make(map[string]struct{})
		s.mu.Unlock()
		return nil
	}
	s.endSessionLocked()
	s.mu.Unlock()

	s.logger.Info("scan halted")
	return s.stopRadio()
}

// Active reports whether a scan session is running.
func (s *Scanner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Owners returns the current session owners, sorted.
func (s *Scanner) Owners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners := make([]string, 0, len(s.owners))
	for o := range s.owners {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

// Sighting returns the latest signal data for id.
func (s *Scanner) Sighting(id string) (Sighting, bool) {
	return s.sightings.Get(id)
}

// endSessionLocked marks the session over so late callbacks are dropped.
func (s *Scanner) endSessionLocked() {
	s.active = false
	s.session++
	s.owners = make(map[string]struct{})
	s.registry.SetScanning(false)
}

func (s *Scanner) stopRadio() error {
	if err := s.radio.StopScan(); err != nil {
		s.logger.Warn("stopping radio scan failed", "error", err)
		return fmt.Errorf("%w: stopping: %w", ErrScanFailure, err)
	}
	return nil
}

// handle processes one radio callback for the given session.
func (s *Scanner) handle(session uint64, ad Advertisement, scanErr error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if !s.active || session != s.session {
		s.mu.Unlock()
		return
	}

	if scanErr != nil {
		s.endSessionLocked()
		listeners := s.listenersLocked()
		s.mu.Unlock()

		err := fmt.Errorf("%w: %w", ErrScanFailure, scanErr)
		s.logger.Error("scan failed", "error", scanErr)
		_ = s.radio.StopScan() //nolint:errcheck // session already failed
		s.registry.Publish(device.Event{Type: device.EventScanFailed, Error: scanErr.Error()})
		for _, l := range listeners {
			if l.onError != nil {
				l.onError(err)
			}
		}
		return
	}

	if !s.accepts(ad) {
		s.mu.Unlock()
		return
	}

	d := device.Device{ID: ad.ID, Name: ad.Name}
	s.record(d, ad.RSSI)
	s.registry.AppendDiscovered(d)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, l := range listeners {
		if l.onDevice != nil {
			l.onDevice(d)
		}
	}
}

// accepts reports whether ad carries a name or is allow-listed.
func (s *Scanner) accepts(ad Advertisement) bool {
	if ad.ID == "" {
		return false
	}
	if ad.Name != "" {
		return true
	}
	_, ok := s.allow[device.NormalizeID(ad.ID)]
	return ok
}

func (s *Scanner) record(d device.Device, rssi int16) {
	sighting, ok := s.sightings.Get(d.ID)
	if !ok {
		sighting = Sighting{Device: d}
	}
	sighting.RSSI = rssi
	sighting.LastSeen = s.now()
	sighting.Count++
	s.sightings.Add(d.ID, sighting)
}

func (s *Scanner) listenersLocked() []scanListener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]scanListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
