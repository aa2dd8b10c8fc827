// Package hub wires the dispatch layer to the parsers and the publisher:
// every advertisement carrying a known company id is parsed, the resulting
// sensor state is published and the device is tracked for unavailability.
package hub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/mqttpub"
	"github.com/srg/blehub/parser"
)

// Publisher receives device state and availability changes
type Publisher interface {
	PublishState(state mqttpub.State) error
	PublishAvailability(address string, available bool) error
}

type deviceState struct {
	data         *parser.DeviceData
	wrappers     map[uint16]*parser.Wrapper
	stopTracking func()
}

// Hub owns the per-device parser state
type Hub struct {
	manager   *bluetooth.Manager
	libraries map[uint16]parser.Library
	publisher Publisher
	logger    *logrus.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
	unsubs  []func()
}

// New creates a hub parsing the company ids in libraries
func New(manager *bluetooth.Manager, libraries map[uint16]parser.Library, publisher Publisher, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		manager:   manager,
		libraries: libraries,
		publisher: publisher,
		logger:    logger,
		devices:   make(map[string]*deviceState),
	}
}

// Start subscribes to every company id with a parser
func (h *Hub) Start() {
	ids := make([]uint16, 0, len(h.libraries))
	for id := range h.libraries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		unsub := h.manager.RegisterCallback(h.onAdvertisement, &bluetooth.Matcher{ManufacturerID: bluetooth.Uint16(id)},
			bluetooth.ScanningModePassive, false)

		h.mu.Lock()
		h.unsubs = append(h.unsubs, unsub)
		h.mu.Unlock()

		h.logger.WithField("manufacturer_id", fmt.Sprintf("0x%04X", id)).Debug("Parser subscribed")
	}
}

// Stop unsubscribes and stops tracking every device
func (h *Hub) Stop() {
	h.mu.Lock()
	unsubs := h.unsubs
	h.unsubs = nil
	devices := h.devices
	h.devices = make(map[string]*deviceState)
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, dev := range devices {
		dev.stopTracking()
	}
}

// Devices returns the addresses with parser state, sorted
func (h *Hub) Devices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	addrs := make([]string, 0, len(h.devices))
	for addr := range h.devices {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// DeviceData returns the parser state of address
func (h *Hub) DeviceData(address string) (*parser.DeviceData, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, ok := h.devices[bluetooth.NormalizeAddress(address)]
	if !ok {
		return nil, false
	}
	return dev.data, true
}

func (h *Hub) onAdvertisement(info bluetooth.ServiceInfo, _ bluetooth.Change) {
	dev, isNew := h.device(info.Address)
	if isNew {
		if err := h.publisher.PublishAvailability(info.Address, true); err != nil {
			h.logger.WithError(err).WithField("address", info.Address).Warn("Failed to publish availability")
		}
	}

	id, ok := info.NewestManufacturerID()
	if !ok {
		return
	}
	wrapper, ok := dev.wrappers[id]
	if !ok {
		return
	}

	readings, err := wrapper.LoadManufacturerDataID(info, id)
	if err != nil || readings == nil {
		// failures are logged by the wrapper
		return
	}

	state := mqttpub.State{
		Address:    info.Address,
		Name:       dev.data.DeviceName(),
		DeviceType: dev.data.DeviceType(),
		RSSI:       info.RSSI,
		Timestamp:  info.Time,
		Sensors:    dev.data.Updates(),
	}
	if state.Name == "" {
		state.Name = info.Name
	}
	if err := h.publisher.PublishState(state); err != nil {
		h.logger.WithError(err).WithField("address", info.Address).Warn("Failed to publish state")
	}
}

// device returns the state of address, creating it (and its unavailability
// tracker) on first sight
func (h *Hub) device(address string) (*deviceState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if dev, ok := h.devices[address]; ok {
		return dev, false
	}

	dev := &deviceState{
		data:     parser.NewDeviceData(),
		wrappers: make(map[uint16]*parser.Wrapper, len(h.libraries)),
	}
	for id, lib := range h.libraries {
		dev.wrappers[id] = parser.NewWrapper(lib, dev.data, h.logger)
	}
	dev.stopTracking = h.manager.TrackUnavailable(address, h.onUnavailable, false)
	h.devices[address] = dev

	h.logger.WithField("address", address).Info("Tracking device")
	return dev, true
}

func (h *Hub) onUnavailable(info bluetooth.ServiceInfo) {
	h.mu.Lock()
	delete(h.devices, info.Address)
	h.mu.Unlock()

	h.logger.WithField("address", info.Address).Info("Device went away")
	if err := h.publisher.PublishAvailability(info.Address, false); err != nil {
		h.logger.WithError(err).WithField("address", info.Address).Warn("Failed to publish availability")
	}
}

// LogPublisher writes state changes to the log, for running without a broker
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) PublishState(state mqttpub.State) error {
	fields := logrus.Fields{
		"address": state.Address,
		"name":    state.Name,
		"type":    state.DeviceType,
		"rssi":    state.RSSI,
	}
	for _, s := range state.Sensors {
		fields[s.Key] = fmt.Sprintf("%v%s", s.Value, s.Unit)
	}
	p.Logger.WithFields(fields).Info("Sensor update")
	return nil
}

func (p LogPublisher) PublishAvailability(address string, available bool) error {
	p.Logger.WithFields(logrus.Fields{"address": address, "available": available}).Info("Availability")
	return nil
}
