package application

import (
	"context"
	"sync"
	"testing"
	"time"

	analytics "filterwatch/internal/analytics/domain"
	analyticsmem "filterwatch/internal/analytics/infrastructure/memory"
	devices "filterwatch/internal/devices/domain"
	validation "filterwatch/internal/validation/domain"
)

type stubTruthRepo struct {
	intervals []validation.GroundTruthInterval
}

func (s *stubTruthRepo) ListRange(ctx context.Context, deviceKey string, from, to time.Time) ([]validation.GroundTruthInterval, error) {
	_ = ctx
	var result []validation.GroundTruthInterval
	for _, iv := range s.intervals {
		if iv.DeviceKey != deviceKey || iv.IntervalStart.Before(from) || !iv.IntervalStart.Before(to) {
			continue
		}
		result = append(result, iv)
	}
	return result, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// meteredDay spreads the wanted heat seconds over as many five-minute
// intervals as it takes.
func meteredDay(deviceKey string, day time.Time, heatSeconds int64) []validation.GroundTruthInterval {
	var intervals []validation.GroundTruthInterval
	cursor := day
	remaining := heatSeconds
	for remaining > 0 {
		chunk := remaining
		if chunk > 300 {
			chunk = 300
		}
		intervals = append(intervals, validation.GroundTruthInterval{
			DeviceKey:        deviceKey,
			IntervalStart:    cursor,
			CompHeat1Seconds: chunk,
			FanSeconds:       chunk,
		})
		remaining -= chunk
		cursor = cursor.Add(5 * time.Minute)
	}
	return intervals
}

func newTestValidator(clock *fakeClock) *Validator {
	return &Validator{
		clock:     clock,
		tolerance: validation.DefaultTolerance,
		lookback:  DefaultLookbackDays,
	}
}

func TestValidateDayWithinToleranceLeavesSummary(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := analyticsmem.NewSummaryRepository()
	if err := store.Upsert(context.Background(), &analytics.DailySummary{
		DeviceKey:   "d1",
		Day:         day,
		HeatSeconds: 3600 + 250,
	}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	truth := &stubTruthRepo{intervals: meteredDay("d1", day, 3600)}
	clock := &fakeClock{now: day.AddDate(0, 0, 1).Add(6 * time.Hour)}
	v := newTestValidator(clock)

	summary, corrected, err := v.validateDay(context.Background(), store, truth, &devices.Device{Key: "d1"}, day)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if corrected {
		t.Fatal("expected no correction within tolerance")
	}
	if summary.HeatSeconds != 3600+250 {
		t.Fatalf("expected reported heat untouched, got %d", summary.HeatSeconds)
	}
	if summary.IsCorrected || summary.CorrectedAt != nil {
		t.Fatal("expected is_corrected unset")
	}
	if summary.DiscrepancySeconds != 250 {
		t.Fatalf("expected discrepancy 250, got %d", summary.DiscrepancySeconds)
	}
	if summary.ValidatedTotalSeconds != 3600 {
		t.Fatalf("expected validated total 3600, got %d", summary.ValidatedTotalSeconds)
	}
	if summary.CoverageIntervals != 12 {
		t.Fatalf("expected 12 intervals, got %d", summary.CoverageIntervals)
	}

	stored, err := store.Get(context.Background(), "d1", day)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.DiscrepancySeconds != 250 {
		t.Fatal("expected validation fields persisted")
	}
}

func TestValidateDayPastToleranceCorrects(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := analyticsmem.NewSummaryRepository()
	if err := store.Upsert(context.Background(), &analytics.DailySummary{
		DeviceKey:      "d1",
		Day:            day,
		HeatSeconds:    3600 + 400,
		UnknownSeconds: 50,
	}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	truth := &stubTruthRepo{intervals: meteredDay("d1", day, 3600)}
	clock := &fakeClock{now: day.AddDate(0, 0, 1).Add(6 * time.Hour)}
	v := newTestValidator(clock)

	summary, corrected, err := v.validateDay(context.Background(), store, truth, &devices.Device{Key: "d1"}, day)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !corrected {
		t.Fatal("expected correction past tolerance")
	}
	if summary.HeatSeconds != 3600 {
		t.Fatalf("expected heat overwritten to 3600, got %d", summary.HeatSeconds)
	}
	if summary.UnknownSeconds != 0 {
		t.Fatalf("expected unknown zeroed, got %d", summary.UnknownSeconds)
	}
	if !summary.IsCorrected || summary.CorrectedAt == nil {
		t.Fatal("expected is_corrected set with timestamp")
	}
	if summary.DiscrepancySeconds != 450 {
		t.Fatalf("expected discrepancy 450, got %d", summary.DiscrepancySeconds)
	}
}

func TestValidateDaySkipsWithoutMetering(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := analyticsmem.NewSummaryRepository()
	if err := store.Upsert(context.Background(), &analytics.DailySummary{
		DeviceKey:   "d1",
		Day:         day,
		HeatSeconds: 1234,
	}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	clock := &fakeClock{now: day.AddDate(0, 0, 1)}
	v := newTestValidator(clock)

	summary, corrected, err := v.validateDay(context.Background(), store, &stubTruthRepo{}, &devices.Device{Key: "d1"}, day)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if summary != nil || corrected {
		t.Fatal("expected skip with no intervals")
	}
}
