// Package bledecode decodes the manufacturer-specific advertisement formats the hub ships
// support for. Its entry point, Parse, follows the convention of general purpose BLE
// advertisement parsers: the input is a raw AD structure (two header bytes, a little-endian
// company id, then the vendor payload) and the output is a flat mapping of reading name to value.
package bledecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Result keys common to every decoded advertisement
const (
	KeyData     = "data"
	KeyType     = "type"
	KeyName     = "name"
	KeyMAC      = "mac"
	KeyRSSI     = "rssi"
	KeyFirmware = "firmware"
	KeyPacket   = "packet"
)

// headerLen is the AD header (length, type) slot preceding the company id
const headerLen = 2

// decoder parses the payload of one company id; the company id is already stripped
type decoder func(payload []byte) (map[string]any, error)

// decoders maps company IDs to their decoder functions
var decoders = map[uint16]decoder{
	BlimCompanyID:    decodeBlim,
	WeatherCompanyID: decodeWeather,
}

// IsSupported returns true if a decoder exists for the company ID
func IsSupported(companyID uint16) bool {
	_, ok := decoders[companyID]
	return ok
}

// CompanyIDs returns the company IDs with a registered decoder
func CompanyIDs() []uint16 {
	ids := make([]uint16, 0, len(decoders))
	for id := range decoders {
		ids = append(ids, id)
	}
	return ids
}

// Parse decodes a raw manufacturer AD structure.
//
// Returns:
//   - the decoded readings, with KeyData set to true when at least one reading was decoded
//   - (nil, nil) for unknown company IDs (not an error)
//   - an error when the structure is truncated or the payload is malformed
func Parse(raw []byte, mac []byte, rssi int) (map[string]any, error) {
	if len(raw) < headerLen+2 {
		return nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}
	companyID := binary.LittleEndian.Uint16(raw[headerLen : headerLen+2])

	decode, ok := decoders[companyID]
	if !ok {
		return nil, nil
	}

	result, err := decode(raw[headerLen+2:])
	if err != nil {
		return nil, fmt.Errorf("company 0x%04X: %w", companyID, err)
	}

	result[KeyRSSI] = rssi
	result[KeyMAC] = formatMAC(mac)
	return result, nil
}

// formatMAC renders the packed address (little-endian, 6 significant bytes) as AA:BB:...
func formatMAC(mac []byte) string {
	if len(mac) < 6 {
		return ""
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = fmt.Sprintf("%02X", mac[5-i])
	}
	return strings.Join(parts, ":")
}
