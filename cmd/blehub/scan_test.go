package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/device"
	"github.com/srg/blehub/internal/testutils"
	"github.com/srg/blehub/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (s *ScanTestSuite) advertisements() []device.Advertisement {
	return []device.Advertisement{
		testutils.NewAdvertisementBuilder().
			WithName("Thermo").
			WithAddress("aa:bb:cc:dd:ee:01").
			WithRSSI(-50).
			WithServices("180f").
			WithManufacturer(0x0499, []byte{0x05, 0x10}).
			BuildAdvertisement(),
		testutils.NewAdvertisementBuilder().
			WithName("Beacon").
			WithAddress("aa:bb:cc:dd:ee:02").
			WithRSSI(-82).
			WithManufacturer(0x004C, []byte{0x02, 0x15}).
			BuildAdvertisement(),
	}
}

func (s *ScanTestSuite) TestJSONOutput() {
	s.UseAdvertisements(s.advertisements()...)

	stdout, _, err := s.ExecuteCommand("scan", "--duration", "600ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("time")).
		Assert(stdout, `[
			{"address": "AA:BB:CC:DD:EE:02", "name": "Beacon", "rssi": -82, "connectable": true, "source": "hci0"},
			{"address": "AA:BB:CC:DD:EE:01", "name": "Thermo", "rssi": -50, "service_uuids": ["180f"], "connectable": true, "source": "hci0"}
		]`)
	s.Equal([]string{"hci0"}, s.adapters)
}

func (s *ScanTestSuite) TestTableOutput() {
	s.UseAdvertisements(s.advertisements()...)

	stdout, _, err := s.ExecuteCommand("scan", "--duration", "600ms")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	s.Require().Len(lines, 3)
	s.Equal([]string{"NAME", "ADDRESS", "RSSI", "SERVICES", "MANUFACTURER", "LAST", "SEEN"}, strings.Fields(lines[0]))
	s.Contains(lines[1], "Beacon")
	s.Contains(lines[1], "-82 dBm")
	s.Contains(lines[1], "0x004C Apple")
	s.Contains(lines[2], "Thermo")
	s.Contains(lines[2], "Battery Service")
	s.Contains(lines[2], "0x0499 Ruuvi")
	s.NotContains(stdout, "\033[", "non-terminal output MUST NOT be colored")
}

func (s *ScanTestSuite) TestFilters() {
	s.UseAdvertisements(s.advertisements()...)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"service", []string{"--services", "0000180F-0000-1000-8000-00805F9B34FB"}, []string{"Thermo"}},
		{"manufacturer", []string{"--manufacturer", "0x004C"}, []string{"Beacon"}},
		{"name glob", []string{"--name", "Th*"}, []string{"Thermo"}},
		{"name prefix", []string{"--name-prefix", "Bea"}, []string{"Beacon"}},
		{"allow list", []string{"--allow", "aa:bb:cc:dd:ee:02"}, []string{"Beacon"}},
		{"block list", []string{"--block", TestDeviceAddress2}, []string{"Thermo"}},
		{"any service", []string{"--services", "180f,feaa"}, []string{"Thermo"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			args := append([]string{"scan", "--duration", "600ms", "--format", "json"}, tt.args...)
			stdout, _, err := s.ExecuteCommand(args...)
			s.Require().NoError(err)

			for _, name := range []string{"Thermo", "Beacon"} {
				if contains(tt.want, name) {
					s.Contains(stdout, name)
				} else {
					s.NotContains(stdout, name)
				}
			}
		})
	}
}

func (s *ScanTestSuite) TestNoDevices() {
	s.UseAdvertisements()

	stdout, _, err := s.ExecuteCommand("scan", "--duration", "400ms")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", stdout)
}

func (s *ScanTestSuite) TestMultipleAdapters() {
	s.UseAdvertisements(s.advertisements()[0])

	_, _, err := s.ExecuteCommand("scan", "--duration", "600ms", "--adapter", "hci0,hci1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"hci0", "hci1"}, s.adapters)
}

func (s *ScanTestSuite) TestInvalidArguments() {
	_, _, err := s.ExecuteCommand("scan", "--format", "xml")
	s.ErrorIs(err, ErrInvalidFormat)

	_, _, err = s.ExecuteCommand("scan", "--manufacturer", "apple")
	s.ErrorContains(err, `invalid manufacturer id "apple"`)

	_, _, err = s.ExecuteCommand("scan", "--services", "xyz")
	s.ErrorContains(err, "invalid service UUID")

	_, _, err = s.ExecuteCommand("scan", "--log-level", "loud")
	s.ErrorContains(err, "invalid log level")
}

func (s *ScanTestSuite) TestAdapterFailure() {
	scanner.NewScanningDevice = func(adapter string) (device.ScanningDevice, error) {
		return nil, fmt.Errorf("%w: operation not permitted", device.ErrPermissionDenied)
	}

	_, _, err := s.ExecuteCommand("scan", "--duration", "400ms")
	s.Require().Error(err)
	s.True(errors.Is(err, bluetooth.ErrNotReady))
	s.Equal("permission denied opening Bluetooth adapter hci0. On Linux run as root or grant CAP_NET_ADMIN and CAP_NET_RAW.", FormatUserError(err))
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func TestScanOptions_Matchers(t *testing.T) {
	opts := &scanOptions{services: []string{"180F", "0xFEAA"}, manufacturer: "76", namePrefix: "Th"}

	matchers, err := opts.matchers()
	require.NoError(t, err)
	require.Len(t, matchers, 2)

	assert.Equal(t, "180f", matchers[0].ServiceUUID)
	assert.Equal(t, "feaa", matchers[1].ServiceUUID)
	for _, m := range matchers {
		require.NotNil(t, m.ManufacturerID)
		assert.Equal(t, uint16(0x004C), *m.ManufacturerID)
		assert.Equal(t, "Th", m.LocalNamePrefix)
	}

	empty, err := (&scanOptions{}).matchers()
	require.NoError(t, err)
	require.Len(t, empty, 1)
	assert.True(t, empty[0].IsEmpty())
}

func TestDisplayDevicesTable(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	info := bluetooth.ServiceInfo{
		Address:      "AA:BB:CC:DD:EE:01",
		Name:         "A very long device name indeed",
		RSSI:         -70,
		ServiceUUIDs: []string{"180f", "180a"},
		Time:         now.Add(-3 * time.Second),
	}
	info.SetManufacturerData(0x004C, []byte{0x02})
	unnamed := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:02", RSSI: -90, Time: now}

	var out strings.Builder
	require.NoError(t, displayDevicesTable(&out, []bluetooth.ServiceInfo{info, unnamed}, now, false))

	testutils.NewTextAsserter(t).Assert(out.String(), `NAME                  ADDRESS            RSSI     SERVICES                        MANUFACTURER  LAST SEEN
A very long devic...  AA:BB:CC:DD:EE:01  -70 dBm  Battery Service,Device Info...  0x004C Apple  3s ago
(unknown)             AA:BB:CC:DD:EE:02  -90 dBm                                                0s ago
`)
}

func TestDisplayDevicesTable_ColorsKeepAlignment(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	infos := []bluetooth.ServiceInfo{
		{Address: "AA:BB:CC:DD:EE:01", Name: "Near", RSSI: -40, Time: now},
		{Address: "AA:BB:CC:DD:EE:02", Name: "Far", RSSI: -100, Time: now},
	}

	var plain, colored strings.Builder
	require.NoError(t, displayDevicesTable(&plain, infos, now, false))
	require.NoError(t, displayDevicesTable(&colored, infos, now, true))

	assert.Contains(t, colored.String(), "\x1b[32m-40 dBm\x1b[0m")
	assert.Contains(t, colored.String(), "\x1b[31m-100 dBm\x1b[0m")
	ansi := regexp.MustCompile("\x1b\\[[0-9;]*m")
	assert.Equal(t, plain.String(), ansi.ReplaceAllString(colored.String(), ""))

	testutils.NewTextAsserter(t).Assert(plain.String(), `NAME  ADDRESS            RSSI      SERVICES  MANUFACTURER  LAST SEEN
Near  AA:BB:CC:DD:EE:01  -40 dBm                           0s ago
Far   AA:BB:CC:DD:EE:02  -100 dBm                          0s ago
`)
}

func TestRSSIText(t *testing.T) {
	assert.Equal(t, "-40 dBm", rssiText(-40, false))
	assert.Equal(t, "\x1b[32m-40 dBm\x1b[0m", rssiText(-40, true))
	assert.Equal(t, "\x1b[33m-75 dBm\x1b[0m", rssiText(-75, true))
	assert.Equal(t, "\x1b[31m-95 dBm\x1b[0m", rssiText(-95, true))
}
