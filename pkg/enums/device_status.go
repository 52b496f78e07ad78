package enums

import "fmt"

// DeviceStatus tracks the operational state of a wash device.
type DeviceStatus string

const (
	DeviceStatusIdle        DeviceStatus = "idle"
	DeviceStatusBusy        DeviceStatus = "busy"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
)

var validDeviceStatuses = []DeviceStatus{
	DeviceStatusIdle,
	DeviceStatusBusy,
	DeviceStatusOffline,
	DeviceStatusMaintenance,
}

// String implements fmt.Stringer.
func (d DeviceStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeviceStatus.
func (d DeviceStatus) IsValid() bool {
	for _, candidate := range validDeviceStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeviceStatus converts raw input into a DeviceStatus.
func ParseDeviceStatus(value string) (DeviceStatus, error) {
	for _, candidate := range validDeviceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid device status %q", value)
}
