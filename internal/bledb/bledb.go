// Package bledb maps BLE UUIDs to display names.
//
// The table is hand-curated: the Bluetooth SIG entries wearables commonly
// expose, plus the ORPHE insole vendor UUIDs. Lookups accept any UUID
// spelling (dashed, 0x-prefixed, braced, full SIG base form).
package bledb

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the BLE library format: lowercase,
// no dashes or braces, 0x prefix stripped. Full 128-bit UUIDs on the
// Bluetooth SIG base (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to the
// 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// ORPHE insole vendor UUIDs (normalized form).
const (
	OrpheSensorServiceUUID = "01a9d6b5ff6e444ab2660be75e85c064"
	OrpheSensorValuesUUID  = "f3f9c7ce46ee420589acabe64e626c0f"
	OrpheStepAnalysisUUID  = "4eb776dccf994af7b2d3ad0f791a79dd"
	OrpheInfoServiceUUID   = "db1b7acacda54453a49b33a53d3f0833"
	OrpheDeviceInfoUUID    = "24354f221c46430ea4aba1eeabbcdfc0"
)

var services = map[string]string{
	"1800":                 "Generic Access",
	"1801":                 "Generic Attribute",
	"180a":                 "Device Information",
	"180d":                 "Heart Rate",
	"180f":                 "Battery Service",
	"1812":                 "Human Interface Device",
	OrpheSensorServiceUUID: "ORPHE Sensor Service",
	OrpheInfoServiceUUID:   "ORPHE Device Information Service",
}

var characteristics = map[string]string{
	"2a00":                "Device Name",
	"2a01":                "Appearance",
	"2a05":                "Service Changed",
	"2a19":                "Battery Level",
	"2a24":                "Model Number String",
	"2a25":                "Serial Number String",
	"2a26":                "Firmware Revision String",
	"2a29":                "Manufacturer Name String",
	"2a37":                "Heart Rate Measurement",
	OrpheSensorValuesUUID: "ORPHE Sensor Values",
	OrpheStepAnalysisUUID: "ORPHE Step Analysis",
	OrpheDeviceInfoUUID:   "ORPHE Device Information",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// LookupService returns the display name for a service UUID, or "".
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the display name for a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the display name for a descriptor UUID, or "".
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// Lookup checks services, characteristics and descriptors in that order.
func Lookup(uuid string) string {
	n := NormalizeUUID(uuid)
	if name, ok := services[n]; ok {
		return name
	}
	if name, ok := characteristics[n]; ok {
		return name
	}
	return descriptors[n]
}
