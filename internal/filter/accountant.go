package filter

import (
	"time"

	devices "filterwatch/internal/devices/domain"
)

// Accountant applies the filter inclusion policy to completed runtime
// intervals and keeps the device counters consistent.
//
// Two counters move independently: hours_used_total accrues every
// interval unclipped, filter_hours_used accrues only intervals that push
// air through the filter, clipped at the last reset boundary.
type Accountant struct{}

// NewAccountant constructs an Accountant.
func NewAccountant() *Accountant {
	return &Accountant{}
}

// CountsTowardFilter decides whether runtime under the given vendor
// status wears the filter. Cooling and fan-bearing statuses always
// count; heat and aux heat count only for fan-assisted variants or when
// the device is configured to force air for heat. Radiant or hydronic
// heat does not move air through a filter.
func CountsTowardFilter(status string, useForcedAirForHeat bool) bool {
	class := devices.Classify(status)
	switch class.Mode {
	case devices.ModeCool, devices.ModeFan:
		return true
	case devices.ModeHeat, devices.ModeAuxHeat:
		return class.FanAssisted || class.FanBearing || useForcedAirForHeat
	default:
		return false
	}
}

// Credit accrues one completed interval into the device counters and
// refreshes the cached usage percent. The interval is [startedAt, endedAt).
func (a *Accountant) Credit(device *devices.Device, state *devices.State, status string, startedAt, endedAt time.Time) {
	if device == nil || state == nil {
		return
	}
	if !endedAt.After(startedAt) {
		return
	}

	state.HoursUsedTotal += endedAt.Sub(startedAt).Hours()

	if CountsTowardFilter(status, device.UseForcedAirForHeat) {
		state.FilterHoursUsed += clipToReset(startedAt, endedAt, state.LastResetTS).Hours()
	}

	device.FilterUsagePercent = devices.UsagePercent(state.FilterHoursUsed, device.FilterTargetHours)
}

// clipToReset returns the portion of [startedAt, endedAt) after the
// reset boundary. A zero reset timestamp means no reset has happened.
func clipToReset(startedAt, endedAt, lastReset time.Time) time.Duration {
	if lastReset.IsZero() || !lastReset.After(startedAt) {
		return endedAt.Sub(startedAt)
	}
	if !endedAt.After(lastReset) {
		return 0
	}
	return endedAt.Sub(lastReset)
}

// ClosedInterval is the minimal shape Recalculate needs from a stored
// session.
type ClosedInterval struct {
	EquipmentStatus string
	StartedAt       time.Time
	EndedAt         time.Time
}

// Recalculate rebuilds filter_hours_used from scratch by replaying every
// closed interval since the last reset under the current policy flag.
// Required when use_forced_air_for_heat changes retroactively. The
// lifetime total is not touched.
func (a *Accountant) Recalculate(device *devices.Device, state *devices.State, closed []ClosedInterval) {
	if device == nil || state == nil {
		return
	}
	state.FilterHoursUsed = 0
	for _, interval := range closed {
		if !interval.EndedAt.After(interval.StartedAt) {
			continue
		}
		if !state.LastResetTS.IsZero() && !interval.EndedAt.After(state.LastResetTS) {
			continue
		}
		if !CountsTowardFilter(interval.EquipmentStatus, device.UseForcedAirForHeat) {
			continue
		}
		state.FilterHoursUsed += clipToReset(interval.StartedAt, interval.EndedAt, state.LastResetTS).Hours()
	}
	device.FilterUsagePercent = devices.UsagePercent(state.FilterHoursUsed, device.FilterTargetHours)
}
