package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	startErr := func(err error) error {
		return fmt.Errorf("start scanner: %w", bluetooth.NewScannerStartError("hci1", err))
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bluetooth off", startErr(fmt.Errorf("%w: rfkill", device.ErrBluetoothOff)), "Bluetooth is turned off. Turn it on and try again."},
		{"permission", startErr(device.ErrPermissionDenied), "permission denied opening Bluetooth adapter hci1. On Linux run as root or grant CAP_NET_ADMIN and CAP_NET_RAW."},
		{"busy", startErr(device.ErrAdapterBusy), "Bluetooth adapter hci1 is busy. Stop other scanning programs and try again."},
		{"missing", startErr(device.ErrAdapterMissing), "Bluetooth adapter hci1 not found. Check the adapters setting."},
		{"unsupported", startErr(fmt.Errorf("%w: BLE scanning on plan9", device.ErrUnsupported)), "BLE scanning is not supported on this platform."},
		{"not ready", startErr(errors.New("hci reset failed")), "Bluetooth adapter hci1 is not ready: hci reset failed"},
		{"timeout", fmt.Errorf("wait: %w", bluetooth.ErrTimeout), "timed out waiting for a matching advertisement"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
