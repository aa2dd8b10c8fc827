// Package device holds the vendor-neutral view of a BLE radio used by the hub:
// the advertisement shape handed over by a scanning backend, the scanning device
// contract, UUID normalization and the error taxonomy shared by scanners.
//
// Backends (see the go-ble subpackage) translate their own advertisement types into
// Advertisement and normalize their error strings into the sentinels defined here.
package device
