package main

import (
	"errors"
	"fmt"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/device"
)

// Command-level errors
var (
	// ErrInvalidFormat is returned for an unknown --format value
	ErrInvalidFormat = errors.New("invalid output format")
)

// FormatUserError turns adapter failures into actionable messages; other errors
// are printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	adapter := "Bluetooth adapter"
	cause := err
	var serr *bluetooth.ScannerStartError
	if errors.As(err, &serr) {
		adapter += " " + serr.Adapter
		cause = serr.Err
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrPermissionDenied):
		return fmt.Sprintf("permission denied opening %s. On Linux run as root or grant CAP_NET_ADMIN and CAP_NET_RAW.", adapter)
	case errors.Is(err, device.ErrAdapterBusy):
		return fmt.Sprintf("%s is busy. Stop other scanning programs and try again.", adapter)
	case errors.Is(err, device.ErrAdapterMissing):
		return fmt.Sprintf("%s not found. Check the adapters setting.", adapter)
	case errors.Is(err, device.ErrUnsupported):
		return "BLE scanning is not supported on this platform."
	case errors.Is(err, bluetooth.ErrNotReady):
		return fmt.Sprintf("%s is not ready: %v", adapter, cause)
	case errors.Is(err, bluetooth.ErrTimeout):
		return "timed out waiting for a matching advertisement"
	default:
		return err.Error()
	}
}
