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
	"filterwatch/internal/observability/metrics"
	sessions "filterwatch/internal/sessions/domain"
	validation "filterwatch/internal/validation/domain"
	validationpg "filterwatch/internal/validation/infrastructure/postgres"
)

// DefaultLookbackDays is how many finished local days each validation
// run re-checks. Metering data can arrive a day late.
const DefaultLookbackDays = 2

// SummaryStore is the slice of the summary repository the validator
// needs.
type SummaryStore interface {
	Get(ctx context.Context, deviceKey string, day time.Time) (*analytics.DailySummary, error)
	SaveValidation(ctx context.Context, summary *analytics.DailySummary) error
}

// Notifier receives correction events. Delivery failures never fail a
// validation run.
type Notifier interface {
	NotifyCorrection(ctx context.Context, summary *analytics.DailySummary) error
}

// Validator is the worker that checks stitched daily runtime against
// the thermostat's metered five-minute intervals and corrects the day
// when they disagree past the tolerance.
type Validator struct {
	db        *sql.DB
	clock     sessions.Clock
	tolerance time.Duration
	lookback  int
	notifier  Notifier
	logger    *log.Logger
}

// NewValidator constructs the worker. notifier may be nil.
func NewValidator(db *sql.DB, clock sessions.Clock, tolerance time.Duration, lookbackDays int, notifier Notifier, logger *log.Logger) (*Validator, error) {
	if db == nil {
		return nil, errors.New("validator: nil db")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	if tolerance <= 0 {
		tolerance = validation.DefaultTolerance
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Validator{
		db:        db,
		clock:     clock,
		tolerance: tolerance,
		lookback:  lookbackDays,
		notifier:  notifier,
		logger:    logger,
	}, nil
}

// Run validates every device over the lookback window.
func (v *Validator) Run(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("validator: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	summaryRepo := analyticspg.NewSummaryRepository(tx)
	truthRepo := validationpg.NewGroundTruthRepository(tx)

	all, err := deviceRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("validator: list devices: %w", err)
	}

	now := v.clock.Now()
	var corrected []*analytics.DailySummary
	checked := 0
	for _, device := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		loc := device.Location()
		localNow := now.In(loc)
		for back := 1; back <= v.lookback; back++ {
			day := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -back)
			summary, didCorrect, err := v.validateDay(ctx, summaryRepo, truthRepo, device, day)
			if err != nil {
				return fmt.Errorf("validator: device %s day %s: %w", device.Key, day.Format("2006-01-02"), err)
			}
			if summary != nil {
				checked++
			}
			if didCorrect {
				corrected = append(corrected, summary)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("validator: commit: %w", err)
	}

	// Notifications go out only after the corrections are durable.
	for _, summary := range corrected {
		if v.notifier == nil {
			break
		}
		if err := v.notifier.NotifyCorrection(ctx, summary); err != nil {
			v.logf("validator_notify_failed device=%s day=%s err=%v", summary.DeviceKey, summary.Day.Format("2006-01-02"), err)
		}
	}

	v.logf("validation_run_done checked=%d corrected=%d", checked, len(corrected))
	return nil
}

// validateDay checks one device day. It returns the summary it touched
// (nil when skipped) and whether a correction was applied.
func (v *Validator) validateDay(ctx context.Context, store SummaryStore, truth validation.GroundTruthRepository, device *devices.Device, day time.Time) (*analytics.DailySummary, bool, error) {
	summary, err := store.Get(ctx, device.Key, day)
	if errors.Is(err, analytics.ErrSummaryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	intervals, err := truth.ListRange(ctx, device.Key, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, false, err
	}
	if len(intervals) == 0 {
		// No metering channel for this device, nothing to check against.
		return nil, false, nil
	}

	totals := validation.SummarizeIntervals(intervals)
	discrepancy, exceeds := validation.Assess(summary.TotalSeconds(), totals, v.tolerance)

	summary.ValidatedHeatSeconds = totals.HeatSeconds
	summary.ValidatedCoolSeconds = totals.CoolSeconds
	summary.ValidatedAuxSeconds = totals.AuxSeconds
	summary.ValidatedFanSeconds = totals.FanOnlySeconds()
	summary.ValidatedTotalSeconds = totals.TotalSeconds()
	summary.DiscrepancySeconds = discrepancy
	summary.CoverageIntervals = totals.Intervals
	metrics.SetDiscrepancy(device.Key, discrepancy)

	if exceeds {
		summary.HeatSeconds = totals.HeatSeconds
		summary.CoolSeconds = totals.CoolSeconds
		summary.AuxHeatSeconds = totals.AuxSeconds
		summary.FanSeconds = totals.FanOnlySeconds()
		summary.UnknownSeconds = 0
		summary.IsCorrected = true
		correctedAt := v.clock.Now().UTC()
		summary.CorrectedAt = &correctedAt
		metrics.IncCorrectionApplied()
		v.logf("validation_corrected device=%s day=%s discrepancy_s=%d", device.Key, day.Format("2006-01-02"), discrepancy)
	}

	if err := store.SaveValidation(ctx, summary); err != nil {
		return nil, false, err
	}
	return summary, exceeds, nil
}

func (v *Validator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}
