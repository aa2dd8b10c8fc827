package testutils

import (
	"encoding/binary"
	"sort"

	"github.com/go-ble/ble"
	goble "github.com/srg/blehub/internal/device/go-ble"
	"github.com/srg/blehub/internal/device"
	"github.com/srg/blehub/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// Every ble.Advertisement method gets an optional expectation, so tests only
// set the fields they care about.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement with unknown TX power.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		serviceData: make(map[string][]byte),
		txPower:     device.TxPowerUnknown,
		connectable: true,
	}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs (16-bit short form or full form).
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithManufacturerData sets raw manufacturer data, company id prefix included.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithManufacturer sets manufacturer data for a company id; the id is encoded little-endian.
func (b *AdvertisementBuilder) WithManufacturer(companyID uint16, payload []byte) *AdvertisementBuilder {
	raw := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(raw, companyID)
	b.manufData = append(raw, payload...)
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.connectable = connectable
	return b
}

// Build creates a mock ble.Advertisement
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	var addr ble.Addr
	if b.address != "" {
		addr = ble.NewAddr(b.address)
	}

	services := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		services = append(services, ble.MustParse(s))
	}

	keys := make([]string, 0, len(b.serviceData))
	for k := range b.serviceData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	serviceData := make([]ble.ServiceData, 0, len(keys))
	for _, k := range keys {
		serviceData = append(serviceData, ble.ServiceData{UUID: ble.MustParse(k), Data: b.serviceData[k]})
	}

	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return(serviceData).Maybe()
	adv.On("Services").Return(services).Maybe()
	adv.On("OverflowService").Return([]ble.UUID(nil)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Addr").Return(addr).Maybe()

	return adv
}

// BuildAdvertisement creates a device.Advertisement backed by the go-ble wrapper
func (b *AdvertisementBuilder) BuildAdvertisement() device.Advertisement {
	return goble.NewBLEAdvertisement(b.Build())
}

// NewScanningDevice returns a mock scanning device that delivers advs and then
// blocks until the scan context is cancelled.
func NewScanningDevice(advs ...device.Advertisement) *mocks.MockScanningDevice {
	dev := &mocks.MockScanningDevice{}
	dev.Emit(advs...)
	dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	dev.On("Stop").Return(nil).Maybe()
	return dev
}
