//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
// CoreBluetooth exposes a single central, the adapter name is ignored.
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(adapter string) (ble.Device, error) {
	return darwin.NewDevice()
}
