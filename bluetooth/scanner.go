package bluetooth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotReady marks failures that the caller should retry later
	ErrNotReady = errors.New("bluetooth not ready")
	// ErrScannerExists is returned when a second scanner registers for the same adapter
	ErrScannerExists = errors.New("scanner already registered for adapter")
	// ErrManagerStopped is returned by operations on a stopped Manager
	ErrManagerStopped = errors.New("bluetooth manager stopped")
	// ErrTimeout is returned when no matching advertisement arrived in time
	ErrTimeout = errors.New("timed out waiting for advertisement")
)

// AdvertisementSource is the single entry point scanners deliver records to
type AdvertisementSource interface {
	OnAdvertisement(info ServiceInfo)
}

// Scanner is one scanning backend bound to a physical adapter
type Scanner interface {
	// Adapter is the adapter name, unique within a Manager
	Adapter() string
	// Connectable reports whether the adapter can connect to what it hears
	Connectable() bool
	// Start begins scanning. It returns a *ScannerStartError if the backend
	// refuses to start.
	Start(ctx context.Context) error
	Stop() error
	// Discovered returns the last record heard per address
	Discovered() []ServiceInfo
}

// FailureReporter is implemented by scanners whose scan can die after a
// successful Start, e.g. when the adapter is unplugged. Failed yields the
// error at most once and is closed when the scan goroutine exits.
type FailureReporter interface {
	Failed() <-chan error
}

// ScannerStartError is returned when a scanner could not be started.
// It matches ErrNotReady and unwraps to the backend error.
type ScannerStartError struct {
	Adapter string
	Err     error
}

// NewScannerStartError wraps err as a start failure of adapter
func NewScannerStartError(adapter string, err error) *ScannerStartError {
	return &ScannerStartError{Adapter: adapter, Err: err}
}

func (e *ScannerStartError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scanner %s failed to start", e.Adapter)
	}
	return fmt.Sprintf("scanner %s failed to start: %v", e.Adapter, e.Err)
}

func (e *ScannerStartError) Is(target error) bool {
	return target == ErrNotReady
}

func (e *ScannerStartError) Unwrap() error {
	return e.Err
}
