package cometblue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"go.uber.org/zap"
)

// AdvertisedName is the local name the thermostats advertise
const AdvertisedName = "Comet Blue"

// DefaultPresenceWindow is how long an advertisement keeps a device present
const DefaultPresenceWindow = 5 * time.Minute

// Scan runs a BLE scan through the default adapter (can be overridden in tests)
var Scan = func(ctx context.Context, handler func(address, name string, rssi int), filter func(name string, services []ble.UUID) bool) error {
	return ble.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(adv.Addr().String(), adv.LocalName(), adv.RSSI())
	}, func(adv ble.Advertisement) bool {
		return filter(adv.LocalName(), adv.Services())
	})
}

// Discovered is a thermostat seen by the scanner
type Discovered struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

// Scanner tracks advertising thermostats. It implements model.PresenceChecker.
type Scanner struct {
	window time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time

	mu   sync.RWMutex
	seen map[string]Discovered
}

// NewScanner creates a scanner; window <= 0 uses DefaultPresenceWindow
func NewScanner(window time.Duration, logger *zap.SugaredLogger) *Scanner {
	if window <= 0 {
		window = DefaultPresenceWindow
	}
	return &Scanner{
		window: window,
		logger: logger,
		now:    time.Now,
		seen:   make(map[string]Discovered),
	}
}

// IsThermostat reports whether an advertisement belongs to a Comet Blue
func IsThermostat(name string, services []ble.UUID) bool {
	if strings.Contains(name, AdvertisedName) {
		return true
	}
	service := ble.MustParse(ServiceUUID)
	for _, s := range services {
		if s.Equal(service) {
			return true
		}
	}
	return false
}

// Observe records an advertisement
func (s *Scanner) Observe(address, name string, rssi int) {
	address = strings.ToUpper(address)

	s.mu.Lock()
	_, known := s.seen[address]
	s.seen[address] = Discovered{Address: address, Name: name, RSSI: rssi, LastSeen: s.now()}
	s.mu.Unlock()

	if !known {
		s.logger.Infow("Discovered thermostat", "address", address, "name", name, "rssi", rssi)
	}
}

// Present implements model.PresenceChecker
func (s *Scanner) Present(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.seen[strings.ToUpper(address)]
	return ok && s.now().Sub(d.LastSeen) <= s.window
}

// Devices returns every thermostat seen within the window, by address
func (s *Scanner) Devices() []Discovered {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]Discovered, 0, len(s.seen))
	for _, d := range s.seen {
		if s.now().Sub(d.LastSeen) <= s.window {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

// Run scans until ctx is done. duration > 0 bounds the scan.
func (s *Scanner) Run(ctx context.Context, duration time.Duration) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	s.logger.Debugw("Starting BLE scan", "duration", duration)
	err := Scan(ctx, s.Observe, IsThermostat)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}
