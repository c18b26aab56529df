package analytics

import (
	"context"
	"errors"
	"time"

	devices "filterwatch/internal/devices/domain"
	sessions "filterwatch/internal/sessions/domain"
	telemetry "filterwatch/internal/telemetry/domain"
)

// ErrSummaryNotFound indicates a missing summary row.
var ErrSummaryNotFound = errors.New("analytics: summary not found")

// ExpectedIntervalsPerDay is the number of five-minute ground-truth
// intervals in a full day.
const ExpectedIntervalsPerDay = 288

// DailySummary is one device's runtime accounting for one local
// calendar day. Day is midnight in the device's timezone. Validated
// fields stay zero until the ground-truth validator has seen the day.
type DailySummary struct {
	DeviceKey string
	Day       time.Time

	SessionCount   int
	HeatSeconds    int64
	CoolSeconds    int64
	FanSeconds     int64
	AuxHeatSeconds int64
	UnknownSeconds int64

	SettingHeatSeconds  int64
	SettingCoolSeconds  int64
	SettingAutoSeconds  int64
	SettingOffSeconds   int64
	SettingAwaySeconds  int64
	SettingEcoSeconds   int64
	SettingOtherSeconds int64

	AvgTemperature *float64
	AvgHumidity    *float64

	ValidatedHeatSeconds  int64
	ValidatedCoolSeconds  int64
	ValidatedAuxSeconds   int64
	ValidatedFanSeconds   int64
	ValidatedTotalSeconds int64
	DiscrepancySeconds    int64
	CoverageIntervals     int

	IsCorrected bool
	CorrectedAt *time.Time
	UpdatedAt   time.Time
}

// TotalSeconds is the observed runtime across every mode bucket.
func (s *DailySummary) TotalSeconds() int64 {
	return s.HeatSeconds + s.CoolSeconds + s.FanSeconds + s.AuxHeatSeconds + s.UnknownSeconds
}

// CoveragePercent is the share of expected metering intervals the
// validator saw for the day, in [0, 100].
func (s *DailySummary) CoveragePercent() float64 {
	return float64(s.CoverageIntervals) / float64(ExpectedIntervalsPerDay) * 100
}

// AddSettingSeconds accumulates duration into the bucket for a
// normalized thermostat setting.
func (s *DailySummary) AddSettingSeconds(setting devices.ThermostatSetting, seconds int64) {
	switch setting {
	case devices.SettingHeat:
		s.SettingHeatSeconds += seconds
	case devices.SettingCool:
		s.SettingCoolSeconds += seconds
	case devices.SettingAuto:
		s.SettingAutoSeconds += seconds
	case devices.SettingOff:
		s.SettingOffSeconds += seconds
	case devices.SettingAway:
		s.SettingAwaySeconds += seconds
	case devices.SettingEco:
		s.SettingEcoSeconds += seconds
	default:
		s.SettingOtherSeconds += seconds
	}
}

// BuildSummary folds a day's closed sessions and raw events into a
// fresh summary. Sessions are attributed whole to the day they started
// in; implausible sensor readings never enter the averages.
func BuildSummary(deviceKey string, day time.Time, closed []*sessions.RuntimeSession, events []telemetry.EquipmentEvent) *DailySummary {
	summary := &DailySummary{DeviceKey: deviceKey, Day: day}

	for _, session := range closed {
		if session.IsOpen() {
			continue
		}
		summary.SessionCount++
		switch session.Mode {
		case devices.ModeHeat:
			summary.HeatSeconds += session.RuntimeSeconds
		case devices.ModeCool:
			summary.CoolSeconds += session.RuntimeSeconds
		case devices.ModeFan:
			summary.FanSeconds += session.RuntimeSeconds
		case devices.ModeAuxHeat:
			summary.AuxHeatSeconds += session.RuntimeSeconds
		default:
			summary.UnknownSeconds += session.RuntimeSeconds
		}
	}

	var (
		tempSum, humSum     float64
		tempCount, humCount int
	)
	for _, event := range events {
		if event.Temperature != nil && telemetry.PlausibleTemperature(*event.Temperature) {
			tempSum += *event.Temperature
			tempCount++
		}
		if event.Humidity != nil && telemetry.PlausibleHumidity(*event.Humidity) {
			humSum += *event.Humidity
			humCount++
		}
	}
	if tempCount > 0 {
		avg := tempSum / float64(tempCount)
		summary.AvgTemperature = &avg
	}
	if humCount > 0 {
		avg := humSum / float64(humCount)
		summary.AvgHumidity = &avg
	}

	return summary
}

// RegionAverage is the mean daily runtime and indoor climate over all
// devices sharing a postal-prefix region for one calendar day. The
// sensor means are nil when no device in the region reported readings.
type RegionAverage struct {
	RegionKey       string
	Day             time.Time
	SampleSize      int
	AvgHeatSeconds  float64
	AvgCoolSeconds  float64
	AvgFanSeconds   float64
	AvgTotalSeconds float64
	AvgTemperature  *float64
	AvgHumidity     *float64
	UpdatedAt       time.Time
}

// SummaryRepository persists daily summaries and region averages.
type SummaryRepository interface {
	Get(ctx context.Context, deviceKey string, day time.Time) (*DailySummary, error)
	Upsert(ctx context.Context, summary *DailySummary) error
	// ListForDay returns all device summaries for the given calendar day.
	ListForDay(ctx context.Context, day time.Time) ([]*DailySummary, error)
	UpsertRegion(ctx context.Context, avg *RegionAverage) error
}
