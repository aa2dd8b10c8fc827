package main

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/srg/blehub/internal/device"
	"github.com/srg/blehub/internal/testutils"
	"github.com/srg/blehub/scanner"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite runs commands against mock scanning devices.
// All cmd/blehub test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	origScanningDevice func(string) (device.ScanningDevice, error)
	adapters           []string
}

func (s *CommandTestSuite) SetupTest() {
	s.origScanningDevice = scanner.NewScanningDevice
	s.adapters = nil
}

func (s *CommandTestSuite) TearDownTest() {
	scanner.NewScanningDevice = s.origScanningDevice
}

// UseAdvertisements makes every adapter deliver advs
func (s *CommandTestSuite) UseAdvertisements(advs ...device.Advertisement) {
	scanner.NewScanningDevice = func(adapter string) (device.ScanningDevice, error) {
		s.adapters = append(s.adapters, adapter)
		return testutils.NewScanningDevice(advs...), nil
	}
}

// ExecuteCommand runs the root command with args, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	cmd := newRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// weatherPayload encodes a weather beacon reading
func weatherPayload(id uint32, temp, press, hum float32) []byte {
	b := make([]byte, 18)
	b[0], b[1] = 0x01, 0xD0
	binary.LittleEndian.PutUint32(b[2:6], id)
	binary.LittleEndian.PutUint32(b[6:10], math.Float32bits(temp))
	binary.LittleEndian.PutUint32(b[10:14], math.Float32bits(press))
	binary.LittleEndian.PutUint32(b[14:18], math.Float32bits(hum))
	return b
}
