package parser

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/bledecode"
	"github.com/srg/blehub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLibrary struct {
	mock.Mock
}

func (m *mockLibrary) Parse(raw []byte, mac []byte, rssi int) (SensorMap, error) {
	args := m.Called(raw, mac, rssi)
	var readings SensorMap
	if v := args.Get(0); v != nil {
		readings = v.(SensorMap)
	}
	return readings, args.Error(1)
}

func weatherPayload(id uint32, temp, press, hum float32) []byte {
	b := []byte{0x01, 0xD0}
	b = binary.LittleEndian.AppendUint32(b, id)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(temp))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(press))
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(hum))
}

func weatherInfo() bluetooth.ServiceInfo {
	info := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:FF", RSSI: -61}
	info.SetManufacturerData(bledecode.WeatherCompanyID, weatherPayload(7, 21.5, 1013.25, 48.75))
	return info
}

func TestWrapper_RoundTripMatchesLibrary(t *testing.T) {
	info := weatherInfo()
	payload := info.ManufacturerData[bledecode.WeatherCompanyID]

	direct, err := bledecode.Parse(RawManufacturerData(bledecode.WeatherCompanyID, payload), AddressToBytes(info.Address), info.RSSI)
	require.NoError(t, err)

	w := NewWrapper(Builtin, nil, testutils.NewTestHelper(t).Logger)
	readings, err := w.LoadManufacturerDataID(info, bledecode.WeatherCompanyID)
	require.NoError(t, err)

	assert.Equal(t, direct, readings)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", readings["mac"])
}

func TestWrapper_ProjectsKnownKeys(t *testing.T) {
	w := NewWrapper(Builtin, nil, nil)

	_, err := w.LoadNewestManufacturerData(weatherInfo())
	require.NoError(t, err)

	data := w.DeviceData()
	assert.Equal(t, "Weather Beacon", data.DeviceType())

	testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoreExtraKeys(false)).AssertValue(data.Updates(), `[
		{"key": "humidity", "value": 48.75, "unit": "%", "device_class": "humidity", "state_class": "measurement"},
		{"key": "packet", "value": 7, "state_class": "total_increasing"},
		{"key": "pressure", "value": 1013.25, "unit": "hPa", "device_class": "pressure", "state_class": "measurement"},
		{"key": "rssi", "value": -61, "unit": "dBm", "device_class": "signal_strength", "state_class": "measurement"},
		{"key": "temperature", "value": 21.5, "unit": "°C", "device_class": "temperature", "state_class": "measurement"}
	]`)
}

func TestWrapper_Load(t *testing.T) {
	t.Run("ignores results without data", func(t *testing.T) {
		w := NewWrapper(Builtin, nil, nil)

		assert.Nil(t, w.Load(SensorMap{"type": "X", "temperature": 1.0}))
		assert.Nil(t, w.Load(SensorMap{"data": false, "temperature": 1.0}))
		assert.Nil(t, w.Load(nil))
		assert.Empty(t, w.DeviceData().DeviceType())
		assert.Empty(t, w.DeviceData().Updates())
	})

	t.Run("unknown keys are no-ops", func(t *testing.T) {
		w := NewWrapper(Builtin, nil, nil)

		updates := w.Load(SensorMap{
			"data":             true,
			"name":             "Kitchen",
			"type":             "Thermo",
			"firmware version": "1.2.3",
			"Temperature Rise": 4,
			"battery":          93,
		})

		require.Len(t, updates, 1)
		assert.Equal(t, SensorUpdate{Key: "battery", Value: 93, Unit: "%", DeviceClass: "battery", StateClass: "measurement"}, updates[0])
		assert.Equal(t, "Kitchen", w.DeviceData().DeviceName())
		assert.Equal(t, "Thermo", w.DeviceData().DeviceType())
		_, ok := w.DeviceData().Sensor("firmware_version")
		assert.False(t, ok)
	})

	t.Run("mapped keys with spaces become snake case", func(t *testing.T) {
		w := NewWrapper(Builtin, nil, nil)

		updates := w.Load(SensorMap{"data": 1, "temperature probe": 30.5})

		require.Len(t, updates, 1)
		assert.Equal(t, "temperature_probe", updates[0].Key)
	})
}

func TestWrapper_ParseFailureIsSkipped(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	info := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:FF"}
	info.SetManufacturerData(bledecode.WeatherCompanyID, []byte{0x01})

	w := NewWrapper(Builtin, nil, helper.Logger)
	readings, err := w.LoadManufacturerDataID(info, bledecode.WeatherCompanyID)

	assert.Nil(t, readings)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(bledecode.WeatherCompanyID), perr.ManufacturerID)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0xFF, 0x01}, perr.Raw)
	assert.Empty(t, w.DeviceData().Updates())
	assert.Contains(t, helper.LogOutput(), "level=warning")
	assert.Contains(t, helper.LogOutput(), "Error parsing BLE data")
}

func TestWrapper_LibraryPanicIsContained(t *testing.T) {
	lib := LibraryFunc(func([]byte, []byte, int) (SensorMap, error) { panic("index out of range") })
	info := weatherInfo()

	w := NewWrapper(lib, nil, nil)
	var err error
	assert.NotPanics(t, func() {
		_, err = w.LoadManufacturerDataID(info, bledecode.WeatherCompanyID)
	})
	assert.ErrorIs(t, err, ErrParserPanic)
}

func TestWrapper_UnrecognizedAndMissing(t *testing.T) {
	info := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:FF"}
	info.SetManufacturerData(0x004C, []byte{0x02, 0x15})
	w := NewWrapper(Builtin, nil, nil)

	readings, err := w.LoadManufacturerDataID(info, 0x004C)
	assert.NoError(t, err)
	assert.Nil(t, readings)

	_, err = w.LoadManufacturerDataID(info, 0x0006)
	assert.ErrorIs(t, err, ErrNoManufacturerData)

	readings, err = w.LoadNewestManufacturerData(bluetooth.ServiceInfo{})
	assert.NoError(t, err)
	assert.Nil(t, readings)
}

func TestWrapper_LoadManufacturerData(t *testing.T) {
	lib := &mockLibrary{}
	lib.On("Parse", RawManufacturerData(0x0001, []byte{1}), mock.Anything, -50).
		Return(SensorMap{"data": true, "temperature": 10.0}, nil)
	lib.On("Parse", RawManufacturerData(0x0002, []byte{2}), mock.Anything, -50).
		Return(nil, errors.New("bad payload"))
	lib.On("Parse", RawManufacturerData(0x0003, []byte{3}), mock.Anything, -50).
		Return(SensorMap{"data": true, "temperature": 30.0}, nil)

	info := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:FF", RSSI: -50}
	info.SetManufacturerData(0x0003, []byte{3})
	info.SetManufacturerData(0x0001, []byte{1})
	info.SetManufacturerData(0x0002, []byte{2})
	info.SetManufacturerData(0x0003, []byte{3})

	w := NewWrapper(lib, nil, nil)
	readings, err := w.LoadManufacturerData(info)

	assert.ErrorContains(t, err, "bad payload")
	assert.Equal(t, SensorMap{"data": true, "temperature": 30.0}, readings, "newest id applied last")
	u, ok := w.DeviceData().Sensor("temperature")
	require.True(t, ok)
	assert.Equal(t, 30.0, u.Value)
	lib.AssertExpectations(t)
}

func TestNewestManufacturerData(t *testing.T) {
	info := bluetooth.ServiceInfo{}
	assert.Nil(t, NewestManufacturerData(info))

	info.SetManufacturerData(0x0002, []byte{0xAA})
	info.SetManufacturerData(0x0001, []byte{0xBB})
	assert.Equal(t, []byte{0, 0, 0x01, 0x00, 0xBB}, NewestManufacturerData(info))
}
