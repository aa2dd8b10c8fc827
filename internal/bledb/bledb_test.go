package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupService(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		expected string
	}{
		{"short form", "180d", "Heart Rate"},
		{"0x prefix", "0x180D", "Heart Rate"},
		{"full SIG UUID with dashes", "0000180f-0000-1000-8000-00805f9b34fb", "Battery Service"},
		{"full SIG UUID without dashes", "0000180f00001000800000805f9b34fb", "Battery Service"},
		{"custom 128-bit UUID", "6e400001-b5a3-f393-e0a9-e50e24dcca9e", ""},
		{"unknown", "ffff", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LookupService(tt.uuid))
		})
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Environmental Sensing", ServiceLabel("181A"))
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", ServiceLabel("6E400001-B5A3-F393-E0A9-E50E24DCCA9E"))

	assert.Equal(t, "0x004C Apple", CompanyLabel(0x004C))
	assert.Equal(t, "0xFFFE", CompanyLabel(0xFFFE))
	assert.Equal(t, "Ruuvi", LookupCompany(0x0499))
}
