package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thermometerScript = `
function parse(company_id, data, rssi, mac, name)
  if company_id ~= 0x0499 then
    return nil
  end
  if #data < 3 then
    error("payload too short")
  end
  print("decoding", #data, "bytes")
  local temp = (string.byte(data, 1) + string.byte(data, 2) * 256) / 100
  return {
    data = true,
    type = "Scripted Thermometer",
    name = name,
    temperature = temp,
    battery = string.byte(data, 3),
    rssi = rssi,
    mac_len = #mac,
  }
end
`

func newThermometer(t *testing.T) (*LuaLibrary, *testutils.TestHelper) {
	helper := testutils.NewTestHelper(t)
	lib, err := NewLuaLibrary("thermometer.lua", thermometerScript, helper.Logger)
	require.NoError(t, err)
	t.Cleanup(lib.Close)
	return lib, helper
}

func TestLuaLibrary_Parse(t *testing.T) {
	lib, helper := newThermometer(t)

	readings, err := lib.ParseWithName(RawManufacturerData(0x0499, []byte{0x66, 0x08, 77}), "Porch", AddressToBytes("AA:BB:CC:DD:EE:FF"), -70)
	require.NoError(t, err)

	assert.Equal(t, SensorMap{
		"data":        true,
		"type":        "Scripted Thermometer",
		"name":        "Porch",
		"temperature": 21.5,
		"battery":     77.0,
		"rssi":        -70.0,
		"mac_len":     8.0,
	}, readings)
	assert.Contains(t, helper.LogOutput(), "decoding 3 bytes")
}

func TestLuaLibrary_UnrecognizedAndMalformed(t *testing.T) {
	lib, _ := newThermometer(t)

	readings, err := lib.Parse(RawManufacturerData(0x004C, []byte{1, 2, 3}), make([]byte, 8), -70)
	assert.NoError(t, err)
	assert.Nil(t, readings)

	_, err = lib.Parse(RawManufacturerData(0x0499, []byte{1}), make([]byte, 8), -70)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "runtime", scriptErr.Type)
	assert.Contains(t, err.Error(), "payload too short")

	_, err = lib.Parse([]byte{0x00}, nil, 0)
	assert.Error(t, err)

	// the state stays usable after a script error
	readings, err = lib.Parse(RawManufacturerData(0x0499, []byte{0, 0, 1}), make([]byte, 8), -1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, readings["temperature"])
}

func TestLuaLibrary_ThroughWrapper(t *testing.T) {
	lib, _ := newThermometer(t)
	info := bluetooth.ServiceInfo{Address: "AA:BB:CC:DD:EE:FF", Name: "Porch", RSSI: -70}
	info.SetManufacturerData(0x0499, []byte{0x66, 0x08, 77})

	w := NewWrapper(lib, nil, nil)
	direct, err := lib.ParseWithName(RawManufacturerData(0x0499, info.ManufacturerData[0x0499]), info.Name, AddressToBytes(info.Address), info.RSSI)
	require.NoError(t, err)

	readings, err := w.LoadNewestManufacturerData(info)
	require.NoError(t, err)
	assert.Equal(t, direct, readings)

	assert.Equal(t, "Porch", w.DeviceData().DeviceName())
	u, ok := w.DeviceData().Sensor("temperature")
	require.True(t, ok)
	assert.Equal(t, 21.5, u.Value)
}

func TestNewLuaLibrary_Errors(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantType string
	}{
		{"syntax", "function parse(", "syntax"},
		{"runtime", "error('boom')", "runtime"},
		{"missing parse", "x = 1", "api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLuaLibrary("bad.lua", tt.script, nil)

			var scriptErr *ScriptError
			require.ErrorAs(t, err, &scriptErr)
			assert.Equal(t, tt.wantType, scriptErr.Type)
			assert.Equal(t, "bad.lua", scriptErr.Source)
		})
	}
}

func TestLuaLibrary_NonTableResult(t *testing.T) {
	lib, err := NewLuaLibrary("num.lua", "function parse() return 42 end", nil)
	require.NoError(t, err)
	defer lib.Close()

	_, err = lib.Parse(RawManufacturerData(1, nil), nil, 0)
	assert.ErrorContains(t, err, "got number")
}

func TestLoadLuaLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermo.lua")
	require.NoError(t, os.WriteFile(path, []byte(thermometerScript), 0o600))

	lib, err := LoadLuaLibrary(path, nil)
	require.NoError(t, err)
	lib.Close()

	_, err = lib.Parse(RawManufacturerData(0x0499, []byte{0, 0, 0}), nil, 0)
	assert.ErrorIs(t, err, ErrLuaClosed)

	_, err = LoadLuaLibrary(filepath.Join(t.TempDir(), "missing.lua"), nil)
	assert.Error(t, err)
}
