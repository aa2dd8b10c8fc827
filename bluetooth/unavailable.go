package bluetooth

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// TrackUnavailable calls cb once if address sends nothing for the configured
// UnavailableTimeout. See TrackUnavailableTimeout.
func (m *Manager) TrackUnavailable(address string, cb UnavailableCallback, connectable bool) (cancel func()) {
	return m.TrackUnavailableTimeout(address, cb, m.opts.UnavailableTimeout, connectable)
}

// TrackUnavailableTimeout calls cb once when no advertisement for address has
// arrived for timeout. The window starts at the last time the address was seen
// (or now, if it was never seen) and every later advertisement restarts it.
// With connectable set, only connectable advertisements restart the window.
// The tracker is removed after it fires.
func (m *Manager) TrackUnavailableTimeout(address string, cb UnavailableCallback, timeout time.Duration, connectable bool) (cancel func()) {
	address = NormalizeAddress(address)
	now := m.now()

	m.mu.Lock()
	m.nextID++
	t := &unavailableTracker{
		id:          m.nextID,
		address:     address,
		callback:    cb,
		timeout:     timeout,
		connectable: connectable,
		since:       now,
	}
	if info, ok := m.history(connectable).Get(address); ok && info.Time.Before(now) {
		t.since = info.Time
	}
	m.trackers[t.id] = t
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Debug("Tracking unavailability")

	return func() {
		m.mu.Lock()
		delete(m.trackers, t.id)
		m.mu.Unlock()
	}
}

// CheckUnavailable fires and removes every tracker whose window has elapsed and
// drops addresses not heard from within UnavailableTimeout from history.
func (m *Manager) CheckUnavailable() {
	now := m.now()

	type firing struct {
		tracker *unavailableTracker
		info    ServiceInfo
	}

	m.mu.Lock()
	var expired []firing
	for id, t := range m.trackers {
		if now.Sub(t.since) < t.timeout {
			continue
		}
		info, ok := m.history(t.connectable).Get(t.address)
		if !ok {
			info = ServiceInfo{Address: t.address}
		}
		expired = append(expired, firing{tracker: t, info: info})
		delete(m.trackers, id)
	}
	for address, seen := range m.lastSeen {
		if now.Sub(seen) >= m.opts.UnavailableTimeout {
			delete(m.lastSeen, address)
			m.all.Del(address)
			m.connectable.Del(address)
		}
	}
	m.mu.Unlock()

	// fire in registration order
	sort.Slice(expired, func(i, j int) bool { return expired[i].tracker.id < expired[j].tracker.id })

	for _, f := range expired {
		m.logger.WithFields(logrus.Fields{
			"address": f.tracker.address,
			"since":   f.tracker.since,
		}).Info("Device unavailable")
		m.fireUnavailable(f.tracker, f.info)
	}
}

func (m *Manager) fireUnavailable(t *unavailableTracker, info ServiceInfo) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("address", t.address).Errorf("Unavailable callback failed: %v", r)
		}
	}()
	t.callback(info)
}
