// Package scanner adapts a BLE scanning backend to bluetooth.Scanner: it turns
// backend advertisements into bluetooth.ServiceInfo records and forwards them
// to the manager.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/device"
	goble "github.com/srg/blehub/internal/device/go-ble"
	"github.com/srg/blehub/internal/groutine"
)

// NewScanningDevice opens the backend for an adapter (can be overridden in tests)
var NewScanningDevice = goble.NewScanningDevice

// ErrAlreadyStarted is returned by Start on a running scanner
var ErrAlreadyStarted = errors.New("scanner already started")

// Options configures scanning behavior
type Options struct {
	Adapter string `default:"hci0"`
	// Passive marks adapters that can only observe, never connect
	Passive         bool
	DuplicateFilter bool
	// StartGrace is how long Start waits for the backend to reject the scan
	StartGrace time.Duration `default:"250ms"`
	AllowList  []string
	BlockList  []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

// Scanner handles BLE device discovery on one adapter
type Scanner struct {
	opts    Options
	sink    bluetooth.AdvertisementSource
	logger  *logrus.Logger
	now     func() time.Time
	devices *hashmap.Map[string, bluetooth.ServiceInfo]

	mu     sync.Mutex
	dev    device.ScanningDevice
	cancel context.CancelFunc
	done   <-chan struct{}
	failed <-chan error
}

var (
	_ bluetooth.Scanner         = (*Scanner)(nil)
	_ bluetooth.FailureReporter = (*Scanner)(nil)
)

// New creates a scanner delivering to sink. Zero option fields take their defaults.
func New(sink bluetooth.AdvertisementSource, logger *logrus.Logger, opts Options) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	return &Scanner{
		opts:    opts,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		devices: hashmap.New[string, bluetooth.ServiceInfo](),
	}
}

func (s *Scanner) Adapter() string   { return s.opts.Adapter }
func (s *Scanner) Connectable() bool { return !s.opts.Passive }

// Start opens the adapter and begins scanning in the background.
// A backend that cannot be opened, or that fails within StartGrace,
// yields a *bluetooth.ScannerStartError.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	dev, err := NewScanningDevice(s.opts.Adapter)
	if err != nil {
		return bluetooth.NewScannerStartError(s.opts.Adapter, err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	failed := make(chan error, 1)
	done := groutine.GoDone(scanCtx, "scanner-"+s.opts.Adapter, func(ctx context.Context) {
		defer close(failed)
		err := dev.Scan(ctx, !s.opts.DuplicateFilter, s.handleAdvertisement)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.logger.WithError(err).WithField("adapter", s.opts.Adapter).Error("BLE scan failed")
		failed <- err
	})

	s.logger.WithFields(logrus.Fields{
		"adapter":     s.opts.Adapter,
		"connectable": !s.opts.Passive,
	}).Info("Starting BLE scan...")

	timer := time.NewTimer(s.opts.StartGrace)
	defer timer.Stop()

	select {
	case err, ok := <-failed:
		if ok {
			cancel()
			<-done
			return bluetooth.NewScannerStartError(s.opts.Adapter, err)
		}
	case <-timer.C:
	}

	s.dev = dev
	s.cancel = cancel
	s.done = done
	s.failed = failed
	return nil
}

// Failed yields the error of a scan that died after Start returned.
// The channel is closed when the scan ends; it is nil while stopped.
func (s *Scanner) Failed() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Stop cancels the scan and releases the adapter
func (s *Scanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.dev.Stop()
	<-s.done

	s.cancel, s.dev, s.done, s.failed = nil, nil, nil, nil
	s.logger.WithFields(logrus.Fields{
		"adapter":      s.opts.Adapter,
		"device_count": s.devices.Len(),
	}).Info("BLE scan stopped")

	if err != nil {
		return fmt.Errorf("failed to stop scanner %s: %w", s.opts.Adapter, err)
	}
	return nil
}

// Discovered returns the last merged record per address, sorted by address
func (s *Scanner) Discovered() []bluetooth.ServiceInfo {
	infos := make([]bluetooth.ServiceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, info bluetooth.ServiceInfo) bool {
		infos = append(infos, info)
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// handleAdvertisement merges adv into the per-address record and forwards it
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	info := s.toServiceInfo(adv)
	if info.Address == "" || !s.shouldInclude(info.Address) {
		return
	}

	if prev, existing := s.devices.Get(info.Address); existing {
		info = prev.Merge(info)
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Debug("Discovered new device")
	}
	s.devices.Set(info.Address, info)

	s.sink.OnAdvertisement(info)
}

func (s *Scanner) toServiceInfo(adv device.Advertisement) bluetooth.ServiceInfo {
	info := bluetooth.ServiceInfo{
		Address:      bluetooth.NormalizeAddress(adv.Addr()),
		Name:         adv.LocalName(),
		RSSI:         adv.RSSI(),
		ServiceUUIDs: device.NormalizeUUIDs(adv.Services()),
		Connectable:  !s.opts.Passive && adv.Connectable(),
		Source:       s.opts.Adapter,
		Time:         s.now(),
	}

	if tx := adv.TxPowerLevel(); tx != device.TxPowerUnknown {
		info.TxPower = &tx
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		info.ServiceData = make(map[string][]byte, len(sd))
		for _, entry := range sd {
			data := make([]byte, len(entry.Data))
			copy(data, entry.Data)
			info.ServiceData[device.NormalizeUUID(entry.UUID)] = data
		}
	}

	if id, data, ok := device.SplitManufacturerData(adv.ManufacturerData()); ok {
		info.SetManufacturerData(id, data)
	}

	return info
}

// shouldInclude applies the allow and block lists
func (s *Scanner) shouldInclude(address string) bool {
	for _, blocked := range s.opts.BlockList {
		if strings.EqualFold(address, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowList {
		if strings.EqualFold(address, allowed) {
			return true
		}
	}
	return false
}
