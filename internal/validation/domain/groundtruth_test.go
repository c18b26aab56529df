package validation_test

import (
	"testing"
	"time"

	validation "filterwatch/internal/validation/domain"
)

func TestSummarizeIntervals(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	intervals := []validation.GroundTruthInterval{
		{IntervalStart: start, CompHeat1Seconds: 300, FanSeconds: 300},
		{IntervalStart: start.Add(5 * time.Minute), CompHeat1Seconds: 120, CompHeat2Seconds: 60, FanSeconds: 200},
		{IntervalStart: start.Add(10 * time.Minute), CompCool1Seconds: 240, AuxHeat1Seconds: 30, FanSeconds: 300},
	}

	totals := validation.SummarizeIntervals(intervals)
	if totals.HeatSeconds != 480 {
		t.Fatalf("expected 480 heat seconds, got %d", totals.HeatSeconds)
	}
	if totals.CoolSeconds != 240 {
		t.Fatalf("expected 240 cool seconds, got %d", totals.CoolSeconds)
	}
	if totals.AuxSeconds != 30 {
		t.Fatalf("expected 30 aux seconds, got %d", totals.AuxSeconds)
	}
	if totals.FanSeconds != 800 {
		t.Fatalf("expected 800 fan seconds, got %d", totals.FanSeconds)
	}
	if totals.Intervals != 3 {
		t.Fatalf("expected 3 intervals, got %d", totals.Intervals)
	}
}

func TestDayTotalsFanOnlyExcess(t *testing.T) {
	totals := validation.DayTotals{HeatSeconds: 600, FanSeconds: 900}
	if got := totals.FanOnlySeconds(); got != 300 {
		t.Fatalf("expected 300 fan-only seconds, got %d", got)
	}
	if got := totals.TotalSeconds(); got != 900 {
		t.Fatalf("expected 900 total seconds, got %d", got)
	}

	// Fan never exceeding staged runtime contributes nothing extra.
	totals = validation.DayTotals{HeatSeconds: 600, CoolSeconds: 300, FanSeconds: 800}
	if got := totals.FanOnlySeconds(); got != 0 {
		t.Fatalf("expected 0 fan-only seconds, got %d", got)
	}
	if got := totals.TotalSeconds(); got != 900 {
		t.Fatalf("expected 900 total seconds, got %d", got)
	}
}

func TestAssessTolerance(t *testing.T) {
	totals := validation.DayTotals{HeatSeconds: 3600}

	// Within tolerance: reported numbers stand.
	discrepancy, corrected := validation.Assess(3600+250, totals, validation.DefaultTolerance)
	if discrepancy != 250 || corrected {
		t.Fatalf("expected 250/uncorrected, got %d/%v", discrepancy, corrected)
	}

	// Past tolerance: metered numbers take over.
	discrepancy, corrected = validation.Assess(3600+400, totals, validation.DefaultTolerance)
	if discrepancy != 400 || !corrected {
		t.Fatalf("expected 400/corrected, got %d/%v", discrepancy, corrected)
	}

	// Under-reporting counts the same as over-reporting.
	discrepancy, corrected = validation.Assess(3600-400, totals, validation.DefaultTolerance)
	if discrepancy != 400 || !corrected {
		t.Fatalf("expected 400/corrected, got %d/%v", discrepancy, corrected)
	}
}
