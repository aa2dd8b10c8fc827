package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blehub/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *BLEAdvertisement) TxPowerLevel() int        { return a.adv.TxPowerLevel() }
func (a *BLEAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int                { return a.adv.RSSI() }

func (a *BLEAdvertisement) Addr() string {
	if addr := a.adv.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (a *BLEAdvertisement) ServiceData() []device.ServiceData {
	bleServiceData := a.adv.ServiceData()
	result := make([]device.ServiceData, len(bleServiceData))
	for i, sd := range bleServiceData {
		result[i] = device.ServiceData{UUID: sd.UUID.String(), Data: sd.Data}
	}
	return result
}

// Services merges complete, incomplete and overflow service UUID lists
func (a *BLEAdvertisement) Services() []string {
	result := make([]string, 0, len(a.adv.Services()))
	for _, svc := range a.adv.Services() {
		result = append(result, svc.String())
	}
	for _, svc := range a.adv.OverflowService() {
		result = append(result, svc.String())
	}
	return result
}

// Unwrap returns the underlying ble.Advertisement
func (a *BLEAdvertisement) Unwrap() ble.Advertisement {
	return a.adv
}
