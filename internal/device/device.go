package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// StartFailure represents the kind of problem that kept a scanner from starting
type StartFailure string

const (
	BluetoothOff     StartFailure = "bluetooth_off"
	PermissionDenied StartFailure = "permission_denied"
	AdapterBusy      StartFailure = "adapter_busy"
	AdapterMissing   StartFailure = "adapter_missing"
)

// StartError represents a normalized scanning backend failure
type StartError struct {
	Failure StartFailure
	Msg     string
}

// Error implements the error interface
func (e *StartError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return strings.ReplaceAll(string(e.Failure), "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(string(e.Failure), "_", " "), e.Msg)
}

// Is allows errors.Is to compare StartError values by Failure
func (e *StartError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StartError)
	if !ok {
		return false
	}
	return e.Failure == t.Failure
}

// Predefined sentinel errors for start failures
var (
	ErrBluetoothOff     = &StartError{Failure: BluetoothOff, Msg: "bluetooth is turned off"}
	ErrPermissionDenied = &StartError{Failure: PermissionDenied}
	ErrAdapterBusy      = &StartError{Failure: AdapterBusy}
	ErrAdapterMissing   = &StartError{Failure: AdapterMissing}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsStartFailure reports whether err is a StartError with the given failure kind
func IsStartFailure(err error, failure StartFailure) bool {
	var serr *StartError
	if errors.As(err, &serr) {
		return serr.Failure == failure
	}
	return false
}

// ScanningDevice represents a BLE radio capable of scanning for advertisements.
// Scan blocks until ctx is done or the backend fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Stop() error
}

// ServiceData is a single service data AD entry
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is a single received advertisement, as reported by a backend
type Advertisement interface {
	LocalName() string
	// ManufacturerData returns the raw AD payload: little-endian company id followed by data.
	ManufacturerData() []byte
	ServiceData() []ServiceData
	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// TxPowerUnknown is the value backends report when no TX power level was advertised
const TxPowerUnknown = 127

// SplitManufacturerData splits a raw manufacturer AD payload into its company id and data.
// Returns false when the payload is too short to carry a company id.
func SplitManufacturerData(raw []byte) (uint16, []byte, bool) {
	if len(raw) < 2 {
		return 0, nil, false
	}
	data := make([]byte, len(raw)-2)
	copy(data, raw[2:])
	return binary.LittleEndian.Uint16(raw[0:2]), data, true
}
