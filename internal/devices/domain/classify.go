package devices

import "strings"

// HVACMode is the tagged classification of a vendor equipment status.
type HVACMode string

const (
	ModeHeat    HVACMode = "heat"
	ModeCool    HVACMode = "cool"
	ModeFan     HVACMode = "fan"
	ModeAuxHeat HVACMode = "auxheat"
	ModeUnknown HVACMode = "unknown"
)

// IsValid reports whether the mode is one of the known variants.
func (m HVACMode) IsValid() bool {
	switch m {
	case ModeHeat, ModeCool, ModeFan, ModeAuxHeat, ModeUnknown:
		return true
	}
	return false
}

// Classification is the once-per-event reduction of a free-form vendor
// status string. Downstream logic operates on this, not on the string.
type Classification struct {
	Mode HVACMode
	// FanAssisted marks heat variants that push air through the filter
	// (vendor statuses ending in "fan").
	FanAssisted bool
	// FanBearing marks any status that mentions the fan circuit.
	FanBearing bool
}

// Classify reduces a vendor status string to a Classification.
func Classify(status string) Classification {
	ls := strings.ToLower(strings.TrimSpace(status))
	c := Classification{Mode: ModeUnknown}
	if ls == "" {
		return c
	}
	c.FanBearing = strings.Contains(ls, "fan")
	c.FanAssisted = strings.HasSuffix(ls, "fan") || strings.HasSuffix(ls, "fan_on") || strings.HasSuffix(ls, "fan-on")

	switch {
	case strings.Contains(ls, "aux") && strings.Contains(ls, "heat"):
		c.Mode = ModeAuxHeat
	case strings.Contains(ls, "heat"):
		c.Mode = ModeHeat
	case strings.Contains(ls, "cool"):
		c.Mode = ModeCool
	case c.FanBearing:
		c.Mode = ModeFan
	}
	return c
}

// activeStatusTokens are the vendor statuses that indicate running
// equipment when an event carries no explicit active flag.
var activeStatusTokens = map[string]struct{}{
	"heat":     {},
	"heating":  {},
	"cool":     {},
	"cooling":  {},
	"fan":      {},
	"fan_only": {},
	"fan-on":   {},
	"fanstart": {},
	"running":  {},
}

// IsActiveStatus reports whether a raw status token marks the equipment
// as running. Matching is exact against the fixed token set,
// case-insensitive.
func IsActiveStatus(status string) bool {
	_, ok := activeStatusTokens[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// ThermostatSetting normalizes a user-facing thermostat mode setting to
// one of the tracked buckets.
type ThermostatSetting string

const (
	SettingHeat  ThermostatSetting = "heat"
	SettingCool  ThermostatSetting = "cool"
	SettingAuto  ThermostatSetting = "auto"
	SettingOff   ThermostatSetting = "off"
	SettingAway  ThermostatSetting = "away"
	SettingEco   ThermostatSetting = "eco"
	SettingOther ThermostatSetting = "other"
)

// NormalizeSetting maps a raw thermostat mode string to a tracked bucket.
func NormalizeSetting(raw string) ThermostatSetting {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "heat":
		return SettingHeat
	case "cool":
		return SettingCool
	case "auto":
		return SettingAuto
	case "off":
		return SettingOff
	case "away":
		return SettingAway
	case "eco":
		return SettingEco
	default:
		return SettingOther
	}
}
