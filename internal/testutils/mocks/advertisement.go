// Package mocks contains testify mocks for the BLE backend interfaces.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/blehub/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAddr is a mock of ble.Addr
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement is a mock of ble.Advertisement
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.ServiceData)
	}
	return nil
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(ble.Addr)
	}
	return nil
}

// MockScanningDevice is a mock of device.ScanningDevice.
// Advertisements queued with Emit are delivered to the handler when Scan is called.
type MockScanningDevice struct {
	mock.Mock
	Advertisements []device.Advertisement
}

// Emit queues advertisements for the next Scan call
func (m *MockScanningDevice) Emit(advs ...device.Advertisement) *MockScanningDevice {
	m.Advertisements = append(m.Advertisements, advs...)
	return m
}

func (m *MockScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup, handler)
	for _, adv := range m.Advertisements {
		handler(adv)
	}
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockScanningDevice) Stop() error {
	return m.Called().Error(0)
}
