package devices

import (
	"errors"
	"time"
)

var (
	// ErrDeviceNotFound indicates an unknown device key.
	ErrDeviceNotFound = errors.New("devices: device not found")
	// ErrEmptyDeviceKey indicates a missing device key.
	ErrEmptyDeviceKey = errors.New("devices: empty device key")
)

// Device holds per-thermostat identity and filter configuration.
type Device struct {
	Key                 string
	VendorID            string
	Timezone            string
	PostalCode          string
	FilterTargetHours   float64
	UseForcedAirForHeat bool
	FilterUsagePercent  int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Location resolves the device timezone, falling back to UTC.
func (d *Device) Location() *time.Location {
	if d == nil || d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RegionKeyLength is the postal-code prefix used for regional grouping.
const RegionKeyLength = 3

// RegionKey returns the coarse geographic grouping key for the device,
// or "" when the device has no usable postal code.
func (d *Device) RegionKey() string {
	if d == nil || len(d.PostalCode) < RegionKeyLength {
		return ""
	}
	return d.PostalCode[:RegionKeyLength]
}

// State is the per-device processing cursor and runtime counters.
// OpenSessionID is non-empty exactly when a session row with a null
// ended_at exists for the device.
type State struct {
	DeviceKey       string
	LastEventTS     time.Time
	OpenSessionID   string
	IsActive        bool
	HoursUsedTotal  float64
	FilterHoursUsed float64
	LastResetTS     time.Time
	UpdatedAt       time.Time
}

// ResetFilter clears the since-reset counter and stamps the reset
// boundary. The lifetime total is untouched.
func (s *State) ResetFilter(now time.Time) {
	s.FilterHoursUsed = 0
	s.LastResetTS = now.UTC()
}

// UsagePercent computes the cached filter usage percentage from the
// since-reset hours and the device target, capped at 100.
func UsagePercent(filterHoursUsed, targetHours float64) int {
	if targetHours <= 0 {
		return 0
	}
	pct := int(filterHoursUsed/targetHours*100 + 0.5)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
