package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blehub/internal/device"
)

// NormalizeError maps known go-ble error strings to structured device.StartError types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "rfkill"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "unauthorized"):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "device or resource busy"),
		containsIgnoreCase(msg, "in progress"):
		return fmt.Errorf("%w: %v", device.ErrAdapterBusy, err)
	case containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "can't find"):
		return fmt.Errorf("%w: %v", device.ErrAdapterMissing, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
