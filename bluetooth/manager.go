package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/internal/groutine"
	"github.com/srg/blehub/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Options configures a Manager
type Options struct {
	// UnavailableTimeout is the default window for TrackUnavailable and for history expiry
	UnavailableTimeout time.Duration `default:"30s"`
	// CheckInterval is how often Run looks for unavailable addresses
	CheckInterval time.Duration `default:"5s"`
	// QueueSize bounds the advertisement queue; the oldest record is dropped when full
	QueueSize int `default:"256"`
}

// DefaultOptions returns Options filled with defaults
func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

// Option customizes a Manager
type Option func(*Manager)

// WithOptions replaces the manager options; zero fields keep their defaults
func WithOptions(opts Options) Option {
	return func(m *Manager) {
		defaults.SetDefaults(&opts)
		m.opts = opts
	}
}

// WithClock replaces the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type subscription struct {
	id          uint64
	callback    Callback
	matcher     *Matcher
	connectable bool
	cancelled   atomic.Bool
}

type unavailableTracker struct {
	id          uint64
	address     string
	callback    UnavailableCallback
	timeout     time.Duration
	connectable bool
	since       time.Time
}

// Manager owns the scanner registry and dispatches advertisements to subscribers.
//
// Records are funneled through OnAdvertisement into a single queue drained by
// Run, which keeps per-scanner arrival order. Registration may happen from any
// goroutine; callbacks always run outside the registry lock.
type Manager struct {
	logger *logrus.Logger
	opts   Options
	now    func() time.Time
	queue  *ringchan.RingChannel[ServiceInfo]

	// latest record per address; connectable holds only connectable records
	all         *hashmap.Map[string, ServiceInfo]
	connectable *hashmap.Map[string, ServiceInfo]

	mu            sync.Mutex
	nextID        uint64
	subscriptions *orderedmap.OrderedMap[uint64, *subscription]
	trackers      map[uint64]*unavailableTracker
	lastSeen      map[string]time.Time
	scanners      map[string]Scanner
	stopped       bool
}

// NewManager creates a Manager. A nil logger falls back to logrus.New().
func NewManager(logger *logrus.Logger, options ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &Manager{
		logger:        logger,
		opts:          DefaultOptions(),
		now:           time.Now,
		all:           hashmap.New[string, ServiceInfo](),
		connectable:   hashmap.New[string, ServiceInfo](),
		subscriptions: orderedmap.New[uint64, *subscription](),
		trackers:      make(map[uint64]*unavailableTracker),
		lastSeen:      make(map[string]time.Time),
		scanners:      make(map[string]Scanner),
	}
	for _, opt := range options {
		opt(m)
	}
	m.queue = ringchan.New[ServiceInfo](m.opts.QueueSize)

	return m
}

// Options returns the effective options
func (m *Manager) Options() Options {
	return m.opts
}

// RegisterCallback subscribes cb to advertisements accepted by matcher.
// Matching records already in history are replayed to cb on the caller's
// goroutine before it returns; records dispatched after registration reach cb
// from Run. A record is delivered by exactly one of the two paths.
// With connectable set, records from non-connectable scanners are ignored.
// The mode is advisory and only logged: scanners pick their mode at start.
func (m *Manager) RegisterCallback(cb Callback, matcher *Matcher, mode ScanningMode, connectable bool) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	sub := &subscription{
		id:          m.nextID,
		callback:    cb,
		matcher:     matcher,
		connectable: connectable,
	}
	m.subscriptions.Set(sub.id, sub)
	// history only changes under mu, so the replay set and live dispatch are disjoint
	replay := m.DiscoveredServiceInfo(connectable)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"subscription": sub.id,
		"mode":         mode,
		"connectable":  connectable,
		"replay":       len(replay),
	}).Debug("Callback registered")

	for _, info := range replay {
		if sub.cancelled.Load() {
			break
		}
		if sub.matcher.Match(info) {
			m.invoke(sub, info, ChangeAdvertisement)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancelled.Store(true)
			m.mu.Lock()
			m.subscriptions.Delete(sub.id)
			m.mu.Unlock()
			m.logger.WithField("subscription", sub.id).Debug("Callback unregistered")
		})
	}
}

// OnAdvertisement enqueues a record for dispatch by Run. It never blocks.
func (m *Manager) OnAdvertisement(info ServiceInfo) {
	if !m.queue.Send(info) {
		m.logger.WithField("address", info.Address).Debug("Advertisement dropped, manager stopped")
	}
}

// ProcessAdvertisement dispatches a record synchronously: it updates history
// and last-seen bookkeeping, then calls every matching subscription once in
// registration order.
func (m *Manager) ProcessAdvertisement(info ServiceInfo) {
	info.Address = NormalizeAddress(info.Address)
	if info.Time.IsZero() {
		info.Time = m.now()
	}

	// a gap longer than a tracker window counts as unavailability even if
	// the periodic check has not run yet
	m.CheckUnavailable()

	m.mu.Lock()
	m.lastSeen[info.Address] = info.Time
	for _, t := range m.trackers {
		if t.address == info.Address && (!t.connectable || info.Connectable) {
			t.since = info.Time
		}
	}
	m.all.Set(info.Address, info)
	if info.Connectable {
		m.connectable.Set(info.Address, info)
	}
	subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.cancelled.Load() {
			continue
		}
		if sub.connectable && !info.Connectable {
			continue
		}
		if !sub.matcher.Match(info) {
			continue
		}
		m.invoke(sub, info, ChangeAdvertisement)
	}
}

func (m *Manager) snapshotLocked() []*subscription {
	subs := make([]*subscription, 0, m.subscriptions.Len())
	for pair := m.subscriptions.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, pair.Value)
	}
	return subs
}

// invoke calls the subscriber, containing any panic to this subscriber
func (m *Manager) invoke(sub *subscription, info ServiceInfo, change Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"subscription": sub.id,
				"address":      info.Address,
				"change":       change,
			}).Errorf("Bluetooth callback failed: %v", r)
		}
	}()
	sub.callback(info, change)
}

// Run drains the advertisement queue and periodically checks for unavailable
// addresses until ctx is done or the manager is stopped.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-m.queue.C():
			if !ok {
				return nil
			}
			m.ProcessAdvertisement(info)
		case <-ticker.C:
			m.CheckUnavailable()
		}
	}
}

// Start runs the dispatch loop in a named goroutine; the returned channel is
// closed when the loop exits.
func (m *Manager) Start(ctx context.Context) <-chan struct{} {
	return groutine.GoDone(ctx, "bluetooth-dispatch", func(ctx context.Context) {
		if err := m.Run(ctx); err != nil {
			m.logger.WithError(err).Error("Bluetooth dispatch loop failed")
		}
	})
}

// DiscoveredServiceInfo returns the latest record per address, sorted by address
func (m *Manager) DiscoveredServiceInfo(connectable bool) []ServiceInfo {
	history := m.history(connectable)
	infos := make([]ServiceInfo, 0, history.Len())
	history.Range(func(_ string, info ServiceInfo) bool {
		infos = append(infos, info)
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// BLEDeviceFromAddress returns the latest record for address
func (m *Manager) BLEDeviceFromAddress(address string, connectable bool) (ServiceInfo, bool) {
	return m.history(connectable).Get(NormalizeAddress(address))
}

// AddressPresent reports whether address is currently in history
func (m *Manager) AddressPresent(address string, connectable bool) bool {
	_, ok := m.BLEDeviceFromAddress(address, connectable)
	return ok
}

func (m *Manager) history(connectable bool) *hashmap.Map[string, ServiceInfo] {
	if connectable {
		return m.connectable
	}
	return m.all
}

// RediscoverAddress replays the last known record for address to every
// matching subscription with ChangeRediscover.
func (m *Manager) RediscoverAddress(address string) {
	info, ok := m.all.Get(NormalizeAddress(address))
	if !ok {
		return
	}

	m.mu.Lock()
	subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.cancelled.Load() || (sub.connectable && !info.Connectable) || !sub.matcher.Match(info) {
			continue
		}
		m.invoke(sub, info, ChangeRediscover)
	}
}

// ProcessAdvertisements waits until cb accepts a matching advertisement and
// returns it. It fails with ErrTimeout when timeout elapses first.
func (m *Manager) ProcessAdvertisements(ctx context.Context, cb func(ServiceInfo) bool, matcher *Matcher, mode ScanningMode, timeout time.Duration, connectable bool) (ServiceInfo, error) {
	found := make(chan ServiceInfo, 1)
	var done atomic.Bool

	unsubscribe := m.RegisterCallback(func(info ServiceInfo, _ Change) {
		if done.Load() || !cb(info) {
			return
		}
		if done.CompareAndSwap(false, true) {
			found <- info
		}
	}, matcher, mode, connectable)
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case info := <-found:
		return info, nil
	case <-timer.C:
		return ServiceInfo{}, ErrTimeout
	case <-ctx.Done():
		return ServiceInfo{}, ctx.Err()
	}
}

// RegisterScanner adds a scanner to the registry. Only one scanner per adapter is allowed.
func (m *Manager) RegisterScanner(s Scanner) (unregister func(), err error) {
	adapter := s.Adapter()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	if _, exists := m.scanners[adapter]; exists {
		return nil, fmt.Errorf("%w: %s", ErrScannerExists, adapter)
	}
	m.scanners[adapter] = s

	m.logger.WithFields(logrus.Fields{
		"adapter":     adapter,
		"connectable": s.Connectable(),
	}).Info("Scanner registered")

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.scanners[adapter]; ok && current == s {
			delete(m.scanners, adapter)
		}
	}, nil
}

// StartScanner registers s and starts it. On a start failure the scanner is
// unregistered again and the error (a *ScannerStartError) is returned.
// A FailureReporter whose scan dies later is stopped and unregistered, so
// the adapter can be registered again.
func (m *Manager) StartScanner(ctx context.Context, s Scanner) (unregister func(), err error) {
	unregister, err = m.RegisterScanner(s)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		unregister()
		return nil, err
	}

	if fr, ok := s.(FailureReporter); ok {
		if failed := fr.Failed(); failed != nil {
			groutine.Go(ctx, "scanner-watch-"+s.Adapter(), func(context.Context) {
				m.watchScanner(s, failed, unregister)
			})
		}
	}
	return unregister, nil
}

func (m *Manager) watchScanner(s Scanner, failed <-chan error, unregister func()) {
	err, ok := <-failed
	if !ok || err == nil {
		return
	}

	unregister()
	if stopErr := s.Stop(); stopErr != nil {
		m.logger.WithError(stopErr).WithField("adapter", s.Adapter()).Debug("Stopping failed scanner")
	}
	m.logger.WithError(err).WithField("adapter", s.Adapter()).Warn("Scanner failed, unregistered")
}

// Scanners returns the registered scanners sorted by adapter name
func (m *Manager) Scanners() []Scanner {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanners := make([]Scanner, 0, len(m.scanners))
	for _, s := range m.scanners {
		scanners = append(scanners, s)
	}
	sort.Slice(scanners, func(i, j int) bool { return scanners[i].Adapter() < scanners[j].Adapter() })
	return scanners
}

// Stop stops every registered scanner and closes the advertisement queue.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	scanners := make([]Scanner, 0, len(m.scanners))
	for _, s := range m.scanners {
		scanners = append(scanners, s)
	}
	m.scanners = make(map[string]Scanner)
	m.mu.Unlock()

	var errs []error
	for _, s := range scanners {
		if err := s.Stop(); err != nil {
			m.logger.WithError(err).WithField("adapter", s.Adapter()).Warn("Failed to stop scanner")
			errs = append(errs, fmt.Errorf("stop %s: %w", s.Adapter(), err))
		}
	}
	m.queue.Close()

	return errors.Join(errs...)
}
