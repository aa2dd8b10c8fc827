package parser

// SensorMapping describes how a reading is exposed as a sensor
type SensorMapping struct {
	Unit        string
	DeviceClass string
	StateClass  string
}

const (
	stateMeasurement = "measurement"
	stateTotal       = "total_increasing"
)

// Mappings lists the readings that become sensor updates. Readings missing
// from the table are ignored.
var Mappings = map[string]SensorMapping{
	"temperature":       {Unit: "°C", DeviceClass: "temperature", StateClass: stateMeasurement},
	"temperature probe": {Unit: "°C", DeviceClass: "temperature", StateClass: stateMeasurement},
	"humidity":          {Unit: "%", DeviceClass: "humidity", StateClass: stateMeasurement},
	"pressure":          {Unit: "hPa", DeviceClass: "pressure", StateClass: stateMeasurement},
	"dewpoint":          {Unit: "°C", DeviceClass: "temperature", StateClass: stateMeasurement},
	"battery":           {Unit: "%", DeviceClass: "battery", StateClass: stateMeasurement},
	"voltage":           {Unit: "V", DeviceClass: "voltage", StateClass: stateMeasurement},
	"rssi":              {Unit: "dBm", DeviceClass: "signal_strength", StateClass: stateMeasurement},
	"illuminance":       {Unit: "lx", DeviceClass: "illuminance", StateClass: stateMeasurement},
	"moisture":          {Unit: "%", DeviceClass: "moisture", StateClass: stateMeasurement},
	"conductivity":      {Unit: "µS/cm", StateClass: stateMeasurement},
	"co2":               {Unit: "ppm", DeviceClass: "carbon_dioxide", StateClass: stateMeasurement},
	"tvoc":              {Unit: "µg/m³", DeviceClass: "volatile_organic_compounds", StateClass: stateMeasurement},
	"formaldehyde":      {Unit: "mg/m³", StateClass: stateMeasurement},
	"pm2.5":             {Unit: "µg/m³", DeviceClass: "pm25", StateClass: stateMeasurement},
	"pm10":              {Unit: "µg/m³", DeviceClass: "pm10", StateClass: stateMeasurement},
	"weight":            {Unit: "kg", DeviceClass: "weight", StateClass: stateMeasurement},
	"steps":             {Unit: "steps", StateClass: stateTotal},
	"packet":            {StateClass: stateTotal},
}
