// Package bluetooth is the advertisement dispatch layer of the hub.
//
// Scanners feed ServiceInfo records into a Manager through the
// AdvertisementSource interface. The Manager keeps the latest record per
// address, fans each record out to the registered callbacks whose Matcher
// accepts it and tracks addresses that stop advertising.
package bluetooth

import (
	"sort"
	"strings"
	"time"

	"github.com/srg/blehub/internal/device"
)

// Change tells a callback why it is being called
type Change int

const (
	// ChangeAdvertisement is a regular advertisement delivery
	ChangeAdvertisement Change = iota
	// ChangeRediscover replays the last known record after RediscoverAddress
	ChangeRediscover
)

func (c Change) String() string {
	switch c {
	case ChangeAdvertisement:
		return "advertisement"
	case ChangeRediscover:
		return "rediscover"
	default:
		return "unknown"
	}
}

// ScanningMode is the scanning mode requested by a subscriber
type ScanningMode int

const (
	ScanningModeActive ScanningMode = iota
	ScanningModePassive
)

func (m ScanningMode) String() string {
	switch m {
	case ScanningModeActive:
		return "active"
	case ScanningModePassive:
		return "passive"
	default:
		return "unknown"
	}
}

// Callback receives matching advertisements
type Callback func(info ServiceInfo, change Change)

// UnavailableCallback is called once an address stopped advertising
type UnavailableCallback func(info ServiceInfo)

// ServiceInfo is a single advertisement as seen by one scanner
type ServiceInfo struct {
	Address          string            `json:"address"`
	Name             string            `json:"name,omitempty"`
	RSSI             int               `json:"rssi"`
	ServiceUUIDs     []string          `json:"service_uuids,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"`
	ManufacturerData map[uint16][]byte `json:"manufacturer_data,omitempty"`
	TxPower          *int              `json:"tx_power,omitempty"`
	Connectable      bool              `json:"connectable"`
	Source           string            `json:"source,omitempty"`
	Time             time.Time         `json:"time"`

	// manufacturer ids in the order they were last received
	manufacturerOrder []uint16
}

// NormalizeAddress returns the canonical (upper case) form of a device address
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// SetManufacturerData stores the payload for a company id and marks it as the newest one
func (s *ServiceInfo) SetManufacturerData(id uint16, data []byte) {
	if s.ManufacturerData == nil {
		s.ManufacturerData = make(map[uint16][]byte)
	}
	s.ManufacturerData[id] = data

	for i, existing := range s.manufacturerOrder {
		if existing == id {
			s.manufacturerOrder = append(s.manufacturerOrder[:i:i], s.manufacturerOrder[i+1:]...)
			break
		}
	}
	s.manufacturerOrder = append(s.manufacturerOrder, id)
}

// NewestManufacturerID returns the most recently received company id.
// Records built without SetManufacturerData fall back to the highest id.
func (s ServiceInfo) NewestManufacturerID() (uint16, bool) {
	for i := len(s.manufacturerOrder) - 1; i >= 0; i-- {
		if _, ok := s.ManufacturerData[s.manufacturerOrder[i]]; ok {
			return s.manufacturerOrder[i], true
		}
	}

	ids := s.ManufacturerIDs()
	if len(ids) == 0 {
		return 0, false
	}
	return ids[len(ids)-1], true
}

// ManufacturerIDs returns the company ids present in the record, sorted
func (s ServiceInfo) ManufacturerIDs() []uint16 {
	ids := make([]uint16, 0, len(s.ManufacturerData))
	for id := range s.ManufacturerData {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasServiceUUID reports whether uuid is among the advertised services
func (s ServiceInfo) HasServiceUUID(uuid string) bool {
	want := device.NormalizeUUID(uuid)
	for _, u := range s.ServiceUUIDs {
		if device.NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}

// ServiceDataFor returns the service data advertised for uuid
func (s ServiceInfo) ServiceDataFor(uuid string) ([]byte, bool) {
	want := device.NormalizeUUID(uuid)
	for k, v := range s.ServiceData {
		if device.NormalizeUUID(k) == want {
			return v, true
		}
	}
	return nil, false
}

// Merge returns newer with the fields it did not advertise filled in from s.
// Advertisements split data across packets, so service UUIDs, service data
// and manufacturer data accumulate per address. Maps are never shared with
// the inputs.
func (s ServiceInfo) Merge(newer ServiceInfo) ServiceInfo {
	merged := newer
	if merged.Name == "" {
		merged.Name = s.Name
	}
	if merged.TxPower == nil {
		merged.TxPower = s.TxPower
	}

	merged.ServiceUUIDs = make([]string, 0, len(s.ServiceUUIDs)+len(newer.ServiceUUIDs))
	seen := make(map[string]struct{}, cap(merged.ServiceUUIDs))
	for _, u := range append(append([]string{}, s.ServiceUUIDs...), newer.ServiceUUIDs...) {
		if _, dup := seen[u]; !dup {
			seen[u] = struct{}{}
			merged.ServiceUUIDs = append(merged.ServiceUUIDs, u)
		}
	}

	merged.ServiceData = nil
	if len(s.ServiceData)+len(newer.ServiceData) > 0 {
		merged.ServiceData = make(map[string][]byte, len(s.ServiceData)+len(newer.ServiceData))
		for k, v := range s.ServiceData {
			merged.ServiceData[k] = v
		}
		for k, v := range newer.ServiceData {
			merged.ServiceData[k] = v
		}
	}

	merged.ManufacturerData = nil
	merged.manufacturerOrder = nil
	for _, id := range s.orderedManufacturerIDs() {
		merged.SetManufacturerData(id, s.ManufacturerData[id])
	}
	for _, id := range newer.orderedManufacturerIDs() {
		merged.SetManufacturerData(id, newer.ManufacturerData[id])
	}

	return merged
}

// orderedManufacturerIDs lists ids oldest first
func (s ServiceInfo) orderedManufacturerIDs() []uint16 {
	ids := make([]uint16, 0, len(s.ManufacturerData))
	tracked := make(map[uint16]struct{}, len(s.manufacturerOrder))
	for _, id := range s.manufacturerOrder {
		if _, ok := s.ManufacturerData[id]; ok {
			tracked[id] = struct{}{}
		}
	}
	for _, id := range s.ManufacturerIDs() {
		if _, ok := tracked[id]; !ok {
			ids = append(ids, id)
		}
	}
	for _, id := range s.manufacturerOrder {
		if _, ok := tracked[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
