// Package bledb resolves assigned numbers seen in advertisements to display names:
// 16-bit service UUIDs and company (manufacturer) identifiers.
package bledb

import (
	"fmt"

	"github.com/srg/blehub/internal/device"
)

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1809": "Health Thermometer",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"181a": "Environmental Sensing",
	"181d": "Weight Scale",
	"fcd2": "BTHome",
	"fd6f": "Exposure Notification",
	"feaa": "Eddystone",
}

var companies = map[uint16]string{
	0x0006: "Microsoft",
	0x000D: "Texas Instruments",
	0x004C: "Apple",
	0x0059: "Nordic Semiconductor",
	0x0075: "Samsung",
	0x0087: "Garmin",
	0x00E0: "Google",
	0x02E5: "Espressif",
	0x0499: "Ruuvi",
}

// LookupService returns the name of a service UUID in any accepted form, or "" if unknown
func LookupService(uuid string) string {
	return services[device.NormalizeUUID(uuid)]
}

// LookupCompany returns the name of a company identifier, or "" if unknown
func LookupCompany(id uint16) string {
	return companies[id]
}

// ServiceLabel returns the service name, falling back to the normalized UUID
func ServiceLabel(uuid string) string {
	if name := LookupService(uuid); name != "" {
		return name
	}
	return device.NormalizeUUID(uuid)
}

// CompanyLabel formats a company identifier as 0xNNNN, followed by its name when known
func CompanyLabel(id uint16) string {
	if name := LookupCompany(id); name != "" {
		return fmt.Sprintf("0x%04X %s", id, name)
	}
	return fmt.Sprintf("0x%04X", id)
}
