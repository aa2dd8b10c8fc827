package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/blehub/internal/device"
)

// scanningDevice is the subset of ble.Device used for passive observation
type scanningDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// bleScanner wraps ble.Device to implement a device.ScanningDevice interface
type bleScanner struct {
	dev scanningDevice
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	err := s.dev.Scan(ctx, allowDup, bleHandler)
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Stop releases the underlying radio
func (s *bleScanner) Stop() error {
	return NormalizeError(s.dev.Stop())
}

// NewScanningDevice opens the named adapter ("hci0", "default") for scanning.
func NewScanningDevice(adapter string) (device.ScanningDevice, error) {
	dev, err := DeviceFactory(adapter)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
