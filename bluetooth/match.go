package bluetooth

import (
	"bytes"
	"path"
	"strings"
)

// Matcher selects advertisements. Zero-valued fields are wildcards, so the
// zero Matcher (and a nil *Matcher) matches every record.
type Matcher struct {
	Address         string
	LocalName       string // exact name or glob pattern
	LocalNamePrefix string
	ServiceUUID     string
	ServiceDataUUID string
	ManufacturerID  *uint16

	// ManufacturerDataStart is matched against the ManufacturerID payload,
	// or against any payload when ManufacturerID is not set.
	ManufacturerDataStart []byte
	Connectable           *bool
}

// Uint16 returns a pointer to v, for Matcher literals
func Uint16(v uint16) *uint16 { return &v }

// Bool returns a pointer to v, for Matcher literals
func Bool(v bool) *bool { return &v }

// Match reports whether every field set in m is satisfied by info.
func (m *Matcher) Match(info ServiceInfo) bool {
	if m == nil {
		return true
	}

	if m.Address != "" && !strings.EqualFold(m.Address, info.Address) {
		return false
	}
	if m.Connectable != nil && *m.Connectable != info.Connectable {
		return false
	}
	if m.LocalName != "" && !matchName(m.LocalName, info.Name) {
		return false
	}
	if m.LocalNamePrefix != "" && !strings.HasPrefix(info.Name, m.LocalNamePrefix) {
		return false
	}
	if m.ServiceUUID != "" && !info.HasServiceUUID(m.ServiceUUID) {
		return false
	}
	if m.ServiceDataUUID != "" {
		if _, ok := info.ServiceDataFor(m.ServiceDataUUID); !ok {
			return false
		}
	}

	if m.ManufacturerID != nil {
		data, ok := info.ManufacturerData[*m.ManufacturerID]
		if !ok {
			return false
		}
		if len(m.ManufacturerDataStart) > 0 && !bytes.HasPrefix(data, m.ManufacturerDataStart) {
			return false
		}
	} else if len(m.ManufacturerDataStart) > 0 {
		found := false
		for _, data := range info.ManufacturerData {
			if bytes.HasPrefix(data, m.ManufacturerDataStart) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// IsEmpty reports whether the matcher accepts everything
func (m *Matcher) IsEmpty() bool {
	return m == nil || (m.Address == "" && m.LocalName == "" && m.LocalNamePrefix == "" &&
		m.ServiceUUID == "" && m.ServiceDataUUID == "" && m.ManufacturerID == nil &&
		len(m.ManufacturerDataStart) == 0 && m.Connectable == nil)
}

func matchName(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
