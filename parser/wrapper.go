package parser

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/bluetooth"
)

// Wrapper runs a Library over the manufacturer data of advertisements and
// loads the results into a DeviceData.
type Wrapper struct {
	lib    Library
	data   *DeviceData
	logger *logrus.Logger
}

// NewWrapper creates a wrapper; a nil data gets a fresh DeviceData.
func NewWrapper(lib Library, data *DeviceData, logger *logrus.Logger) *Wrapper {
	if data == nil {
		data = NewDeviceData()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Wrapper{lib: lib, data: data, logger: logger}
}

// DeviceData returns the accumulated device state
func (w *Wrapper) DeviceData() *DeviceData {
	return w.data
}

// LoadManufacturerData loads every company id of info, oldest first.
// Readings are merged; parse failures are joined into the returned error.
func (w *Wrapper) LoadManufacturerData(info bluetooth.ServiceInfo) (SensorMap, error) {
	ids := info.ManufacturerIDs()
	if newest, ok := info.NewestManufacturerID(); ok {
		// newest last so its readings win
		sort.SliceStable(ids, func(i, j int) bool { return ids[j] == newest && ids[i] != newest })
	}

	var (
		merged SensorMap
		errs   []error
	)
	for _, id := range ids {
		readings, err := w.LoadManufacturerDataID(info, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if readings == nil {
			continue
		}
		if merged == nil {
			merged = make(SensorMap, len(readings))
		}
		for k, v := range readings {
			merged[k] = v
		}
	}
	return merged, errors.Join(errs...)
}

// LoadNewestManufacturerData loads only the most recently received company id
func (w *Wrapper) LoadNewestManufacturerData(info bluetooth.ServiceInfo) (SensorMap, error) {
	id, ok := info.NewestManufacturerID()
	if !ok {
		return nil, nil
	}
	return w.LoadManufacturerDataID(info, id)
}

// LoadManufacturerDataID parses the payload of one company id and loads the
// readings. A failing parse is logged at warning level and returned as a
// *ParseError; the device data is left untouched. An unrecognized format
// yields (nil, nil).
func (w *Wrapper) LoadManufacturerDataID(info bluetooth.ServiceInfo, id uint16) (SensorMap, error) {
	payload, ok := info.ManufacturerData[id]
	if !ok {
		return nil, &ParseError{Address: info.Address, ManufacturerID: id, Err: ErrNoManufacturerData}
	}

	raw := RawManufacturerData(id, payload)
	readings, err := w.parse(raw, info)
	if err != nil {
		perr := &ParseError{Address: info.Address, ManufacturerID: id, Raw: raw, Err: err}
		w.logger.WithFields(logrus.Fields{
			"address":         info.Address,
			"manufacturer_id": fmt.Sprintf("0x%04X", id),
			"raw":             fmt.Sprintf("%X", raw),
		}).WithError(err).Warn("Error parsing BLE data")
		return nil, perr
	}

	w.Load(readings)
	return readings, nil
}

func (w *Wrapper) parse(raw []byte, info bluetooth.ServiceInfo) (readings SensorMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			readings, err = nil, fmt.Errorf("%w: %v", ErrParserPanic, r)
		}
	}()

	mac := AddressToBytes(info.Address)
	if named, ok := w.lib.(NamedLibrary); ok {
		return named.ParseWithName(raw, info.Name, mac, info.RSSI)
	}
	return w.lib.Parse(raw, mac, info.RSSI)
}

// Load projects parser readings into the device data. Results without a
// truthy "data" entry are ignored. Readings without a mapping are skipped.
// It returns the sensor updates that were applied, sorted by key.
func (w *Wrapper) Load(readings SensorMap) []SensorUpdate {
	if len(readings) == 0 || !truthy(readings["data"]) {
		return nil
	}

	if t, ok := readings["type"].(string); ok && t != "" {
		w.data.SetDeviceType(t)
	}
	if name, ok := readings["name"].(string); ok && name != "" {
		w.data.SetDeviceName(name)
	}

	var updates []SensorUpdate
	for key, value := range readings {
		mapping, ok := Mappings[key]
		if !ok {
			continue
		}
		u := SensorUpdate{
			Key:         DescriptionKey(key),
			Value:       value,
			Unit:        mapping.Unit,
			DeviceClass: mapping.DeviceClass,
			StateClass:  mapping.StateClass,
		}
		w.data.UpdateSensor(u)
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Key < updates[j].Key })
	return updates
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint32:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
