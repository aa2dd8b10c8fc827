//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/blehub/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(adapter string) (ble.Device, error) {
	return nil, fmt.Errorf("%w: BLE scanning on %s", device.ErrUnsupported, runtime.GOOS)
}
