package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	analytics "filterwatch/internal/analytics/domain"
	analyticspg "filterwatch/internal/analytics/infrastructure/postgres"
	devices "filterwatch/internal/devices/domain"
	devicespg "filterwatch/internal/devices/infrastructure/postgres"
	sessions "filterwatch/internal/sessions/domain"
	sessionspg "filterwatch/internal/sessions/infrastructure/postgres"
	telemetry "filterwatch/internal/telemetry/domain"
	telemetrypg "filterwatch/internal/telemetry/infrastructure/postgres"
)

// EventSource is the slice of the telemetry store the aggregator needs.
type EventSource interface {
	ListRange(ctx context.Context, deviceKey string, from, to time.Time) ([]telemetry.EquipmentEvent, error)
	NextModeChangeAfter(ctx context.Context, deviceKey string, ts time.Time) (*telemetry.EquipmentEvent, error)
}

// DefaultLookbackDays is how many finished local days each aggregation
// run recomputes. Late-arriving events inside the window are folded in
// because the upsert overwrites the whole row.
const DefaultLookbackDays = 2

// DailyAggregator is the worker that rolls closed sessions and sensor
// readings into per-device local-calendar-day summaries.
type DailyAggregator struct {
	db       *sql.DB
	clock    sessions.Clock
	lookback int
	logger   *log.Logger
}

// NewDailyAggregator constructs the worker.
func NewDailyAggregator(db *sql.DB, clock sessions.Clock, lookbackDays int, logger *log.Logger) (*DailyAggregator, error) {
	if db == nil {
		return nil, errors.New("daily aggregator: nil db")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &DailyAggregator{db: db, clock: clock, lookback: lookbackDays, logger: logger}, nil
}

// Run recomputes summaries for every device over the lookback window.
func (a *DailyAggregator) Run(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("daily aggregator: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	sessionRepo := sessionspg.NewSessionRepository(tx)
	eventRepo := telemetrypg.NewEventRepository(tx)
	summaryRepo := analyticspg.NewSummaryRepository(tx)

	all, err := deviceRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("daily aggregator: list devices: %w", err)
	}

	now := a.clock.Now()
	upserts := 0
	for _, device := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		loc := device.Location()
		localNow := now.In(loc)
		for back := 1; back <= a.lookback; back++ {
			day := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -back)
			summary, err := a.buildDay(ctx, sessionRepo, eventRepo, device, day)
			if err != nil {
				return fmt.Errorf("daily aggregator: device %s day %s: %w", device.Key, day.Format("2006-01-02"), err)
			}
			if err := summaryRepo.Upsert(ctx, summary); err != nil {
				return fmt.Errorf("daily aggregator: upsert %s: %w", device.Key, err)
			}
			upserts++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("daily aggregator: commit: %w", err)
	}
	if a.logger != nil {
		a.logger.Printf("daily_rollup_done devices=%d summaries=%d", len(all), upserts)
	}
	return nil
}

// buildDay computes one device's summary for the local day starting at
// dayStart (midnight in the device's timezone).
func (a *DailyAggregator) buildDay(ctx context.Context, sessionRepo sessions.Repository, eventRepo EventSource, device *devices.Device, dayStart time.Time) (*analytics.DailySummary, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)

	closed, err := sessionRepo.ListClosedRange(ctx, device.Key, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	events, err := eventRepo.ListRange(ctx, device.Key, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	summary := analytics.BuildSummary(device.Key, dayStart, closed, events)

	if err := a.applySettingDurations(ctx, eventRepo, device.Key, summary, events, dayEnd); err != nil {
		return nil, err
	}
	return summary, nil
}

// applySettingDurations attributes the time each thermostat setting was
// in force, from each setting change until the next, clipped to the
// day. A change with no successor anywhere contributes nothing since
// its span is unbounded.
func (a *DailyAggregator) applySettingDurations(ctx context.Context, eventRepo EventSource, deviceKey string, summary *analytics.DailySummary, events []telemetry.EquipmentEvent, dayEnd time.Time) error {
	var changes []telemetry.EquipmentEvent
	for _, event := range events {
		if event.ThermostatMode != nil && *event.ThermostatMode != "" {
			changes = append(changes, event)
		}
	}

	for i, change := range changes {
		var next *time.Time
		if i+1 < len(changes) {
			t := changes[i+1].RecordedAt
			next = &t
		} else {
			after, err := eventRepo.NextModeChangeAfter(ctx, deviceKey, change.RecordedAt.Add(time.Microsecond))
			if err != nil {
				return err
			}
			if after != nil {
				t := after.RecordedAt
				next = &t
			}
		}
		if next == nil {
			continue
		}
		end := *next
		if end.After(dayEnd) {
			end = dayEnd
		}
		if !end.After(change.RecordedAt) {
			continue
		}
		setting := devices.NormalizeSetting(*change.ThermostatMode)
		summary.AddSettingSeconds(setting, int64(end.Sub(change.RecordedAt).Seconds()))
	}
	return nil
}
