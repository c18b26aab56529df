package validation

import (
	"context"
	"time"
)

// DefaultTolerance is the discrepancy, in seconds, a day may show
// between stitched runtime and metered runtime before the metered
// numbers take over.
const DefaultTolerance = 300 * time.Second

// IntervalLength is the metering granularity.
const IntervalLength = 5 * time.Minute

// GroundTruthInterval is one five-minute equipment runtime report from
// the thermostat's metering channel. Each field is seconds of runtime
// within the interval for one relay.
type GroundTruthInterval struct {
	DeviceKey        string
	IntervalStart    time.Time
	AuxHeat1Seconds  int64
	AuxHeat2Seconds  int64
	CompCool1Seconds int64
	CompCool2Seconds int64
	CompHeat1Seconds int64
	CompHeat2Seconds int64
	FanSeconds       int64
}

// DayTotals is the metered runtime for one device day, folded over all
// of its intervals.
type DayTotals struct {
	HeatSeconds int64
	CoolSeconds int64
	AuxSeconds  int64
	FanSeconds  int64
	Intervals   int
}

// TotalSeconds is the metered equipment runtime. Fan time only counts
// where it exceeds compressor and heat runtime, since the fan runs
// alongside every other stage.
func (d DayTotals) TotalSeconds() int64 {
	staged := d.HeatSeconds + d.CoolSeconds + d.AuxSeconds
	fanOnly := d.FanSeconds - staged
	if fanOnly < 0 {
		fanOnly = 0
	}
	return staged + fanOnly
}

// FanOnlySeconds is the metered fan runtime not attributable to a
// heating or cooling stage.
func (d DayTotals) FanOnlySeconds() int64 {
	fanOnly := d.FanSeconds - (d.HeatSeconds + d.CoolSeconds + d.AuxSeconds)
	if fanOnly < 0 {
		return 0
	}
	return fanOnly
}

// SummarizeIntervals folds metered intervals into day totals. Stages of
// the same kind accumulate into one bucket.
func SummarizeIntervals(intervals []GroundTruthInterval) DayTotals {
	var totals DayTotals
	for _, iv := range intervals {
		totals.HeatSeconds += iv.CompHeat1Seconds + iv.CompHeat2Seconds
		totals.CoolSeconds += iv.CompCool1Seconds + iv.CompCool2Seconds
		totals.AuxSeconds += iv.AuxHeat1Seconds + iv.AuxHeat2Seconds
		totals.FanSeconds += iv.FanSeconds
		totals.Intervals++
	}
	return totals
}

// Assess compares stitched runtime against metered totals. It returns
// the absolute discrepancy and whether it exceeds the tolerance.
func Assess(observedSeconds int64, totals DayTotals, tolerance time.Duration) (int64, bool) {
	discrepancy := observedSeconds - totals.TotalSeconds()
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}
	return discrepancy, discrepancy > int64(tolerance.Seconds())
}

// GroundTruthRepository reads metered runtime intervals.
type GroundTruthRepository interface {
	// ListRange returns intervals with interval_start in [from, to).
	ListRange(ctx context.Context, deviceKey string, from, to time.Time) ([]GroundTruthInterval, error)
}
