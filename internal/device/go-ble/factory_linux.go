//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(adapter string) (ble.Device, error) {
	id, err := adapterID(adapter)
	if err != nil {
		return nil, err
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}

// adapterID converts an HCI adapter name ("hci1") into its device index
func adapterID(adapter string) (int, error) {
	if adapter == "" || adapter == "default" {
		return 0, nil
	}
	id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("can't find adapter %q: expected hciN", adapter)
	}
	return id, nil
}
