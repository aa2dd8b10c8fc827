package parser

import (
	"sort"
	"sync"
)

// SensorUpdate is the latest value of one sensor
type SensorUpdate struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Unit        string `json:"unit,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
}

// DeviceData accumulates what the parser learned about one device
type DeviceData struct {
	mu         sync.RWMutex
	deviceType string
	name       string
	sensors    map[string]SensorUpdate
}

func NewDeviceData() *DeviceData {
	return &DeviceData{sensors: make(map[string]SensorUpdate)}
}

func (d *DeviceData) SetDeviceType(t string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceType = t
}

func (d *DeviceData) SetDeviceName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// UpdateSensor stores u, replacing the previous value for its key
func (d *DeviceData) UpdateSensor(u SensorUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensors[u.Key] = u
}

func (d *DeviceData) DeviceType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceType
}

func (d *DeviceData) DeviceName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *DeviceData) Sensor(key string) (SensorUpdate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.sensors[key]
	return u, ok
}

// Updates returns the current sensor values sorted by key
func (d *DeviceData) Updates() []SensorUpdate {
	d.mu.RLock()
	defer d.mu.RUnlock()

	updates := make([]SensorUpdate, 0, len(d.sensors))
	for _, u := range d.sensors {
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Key < updates[j].Key })
	return updates
}
