// Package parser feeds manufacturer data from advertisements into a parsing
// library and projects the readings it returns into sensor updates.
package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/bledecode"
)

// SensorMap is the reading name to value mapping returned by a Library
type SensorMap = map[string]any

// Library decodes a raw manufacturer AD structure: two padding bytes, the
// little-endian company id, then the payload. A nil map without error means
// the format is not recognized.
type Library interface {
	Parse(raw []byte, mac []byte, rssi int) (SensorMap, error)
}

// NamedLibrary is implemented by libraries that also need the local name
type NamedLibrary interface {
	ParseWithName(raw []byte, name string, mac []byte, rssi int) (SensorMap, error)
}

// LibraryFunc adapts a function to Library
type LibraryFunc func(raw []byte, mac []byte, rssi int) (SensorMap, error)

func (f LibraryFunc) Parse(raw []byte, mac []byte, rssi int) (SensorMap, error) {
	return f(raw, mac, rssi)
}

// Builtin is the library for the formats the hub decodes natively
var Builtin Library = LibraryFunc(bledecode.Parse)

var (
	// ErrNoManufacturerData is returned when the record lacks the requested company id
	ErrNoManufacturerData = errors.New("no manufacturer data")
	// ErrParserPanic wraps a panic raised inside a parsing library
	ErrParserPanic = errors.New("parser panicked")
)

// ParseError describes an advertisement the library could not parse
type ParseError struct {
	Address        string
	ManufacturerID uint16
	Raw            []byte
	Err            error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing BLE data from %s (company 0x%04X, raw %X): %v",
		e.Address, e.ManufacturerID, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RawManufacturerData builds the structure parsing libraries expect:
// two zero padding bytes, the little-endian company id, then the payload.
func RawManufacturerData(id uint16, payload []byte) []byte {
	raw := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint16(raw[2:4], id)
	return append(raw, payload...)
}

// NewestManufacturerData returns the raw structure for the most recently
// received company id, or nil when the record carries none.
func NewestManufacturerData(info bluetooth.ServiceInfo) []byte {
	id, ok := info.NewestManufacturerID()
	if !ok {
		return nil
	}
	return RawManufacturerData(id, info.ManufacturerData[id])
}

// AddressToBytes packs a colon separated MAC address into a little-endian
// 64-bit integer. Addresses without colons (platform UUIDs) pack as zero.
func AddressToBytes(address string) []byte {
	out := make([]byte, 8)
	if !strings.Contains(address, ":") {
		return out
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(address, ":", ""), 16, 64)
	if err != nil {
		return out
	}
	binary.LittleEndian.PutUint64(out, v)
	return out
}

// DescriptionKey converts a reading name into a sensor key ("hardware version" -> "hardware_version")
func DescriptionKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, " ", "_"))
}
