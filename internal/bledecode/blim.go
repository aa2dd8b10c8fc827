package bledecode

import "fmt"

// BlimCompanyID is the BLIMCo company ID (test/internal use range)
const BlimCompanyID uint16 = 0xFFFE

// BlimDeviceType represents known Blim device types
type BlimDeviceType uint8

const (
	BlimDeviceTypeBLETest BlimDeviceType = 0x00 // Test peripheral with all supported BLE features
	BlimDeviceTypeIMU     BlimDeviceType = 0x01 // IMU Streamer
)

// String returns human-readable device type name
func (t BlimDeviceType) String() string {
	switch t {
	case BlimDeviceTypeBLETest:
		return "BLE Test Device"
	case BlimDeviceTypeIMU:
		return "IMU Streamer"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", uint8(t))
	}
}

// decodeBlim decodes Blim (BLIMCo) manufacturer data
//
// Payload format (5 or 6 bytes, company id stripped):
//   - Byte 0:    Device Type (0x00 = BLE Test Device, 0x01 = IMU Streamer)
//   - Byte 1:    Hardware Version (high nibble = major, low nibble = minor)
//   - Bytes 2-4: Firmware Version (Major.Minor.Patch)
//   - Byte 5:    Battery level in percent (optional)
func decodeBlim(payload []byte) (map[string]any, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("blim manufacturer data too short: %d bytes, expected 5", len(payload))
	}

	deviceType := BlimDeviceType(payload[0])
	hwMajor := (payload[1] >> 4) & 0x0F
	hwMinor := payload[1] & 0x0F

	result := map[string]any{
		KeyType:            "BLIM " + deviceType.String(),
		KeyFirmware:        "BLIMCo",
		"hardware version": fmt.Sprintf("%d.%d", hwMajor, hwMinor),
		"firmware version": fmt.Sprintf("%d.%d.%d", payload[2], payload[3], payload[4]),
	}

	if len(payload) >= 6 {
		battery := int(payload[5])
		if battery > 100 {
			return nil, fmt.Errorf("blim battery level out of range: %d", battery)
		}
		result["battery"] = battery
		result[KeyData] = true
	}

	return result, nil
}
