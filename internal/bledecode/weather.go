package bledecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WeatherCompanyID is the company ID the weather station beacons advertise with
const WeatherCompanyID uint16 = 0xFFFF

// Weather beacon payload format (little-endian): magic 0x01 0xD0, reading_id uint32,
// temperature float32, pressure float32, humidity float32 (18 bytes total).
const (
	weatherMagic0     = 0x01
	weatherMagic1     = 0xD0
	weatherPayloadLen = 18
)

func decodeWeather(payload []byte) (map[string]any, error) {
	if len(payload) < weatherPayloadLen {
		return nil, fmt.Errorf("payload too short: %d", len(payload))
	}
	if payload[0] != weatherMagic0 || payload[1] != weatherMagic1 {
		return nil, fmt.Errorf("invalid magic: %02X %02X", payload[0], payload[1])
	}

	id := binary.LittleEndian.Uint32(payload[2:6])
	temp := math.Float32frombits(binary.LittleEndian.Uint32(payload[6:10]))
	press := math.Float32frombits(binary.LittleEndian.Uint32(payload[10:14]))
	hum := math.Float32frombits(binary.LittleEndian.Uint32(payload[14:18]))

	return map[string]any{
		KeyType:       "Weather Beacon",
		KeyFirmware:   "cloudpico",
		KeyPacket:     id,
		KeyData:       true,
		"temperature": round2(float64(temp)),
		"pressure":    round2(float64(press)),
		"humidity":    round2(float64(hum)),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
