package application

import (
	"testing"
	"time"

	analytics "filterwatch/internal/analytics/domain"
)

func TestBuildRegionAverages(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	regions := map[string]string{
		"d1": "641",
		"d2": "641",
		"d3": "902",
		// d4 has no postal code and no region entry.
	}
	temp1, temp2, hum2 := 70.0, 72.0, 40.0
	summaries := []*analytics.DailySummary{
		{DeviceKey: "d1", Day: day, HeatSeconds: 1000, CoolSeconds: 200, AvgTemperature: &temp1},
		{DeviceKey: "d2", Day: day, HeatSeconds: 3000, CoolSeconds: 0, FanSeconds: 400, AvgTemperature: &temp2, AvgHumidity: &hum2},
		{DeviceKey: "d3", Day: day, CoolSeconds: 600},
		{DeviceKey: "d4", Day: day, HeatSeconds: 9999},
	}

	averages := BuildRegionAverages(day, summaries, regions)
	if len(averages) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(averages))
	}

	byKey := map[string]*analytics.RegionAverage{}
	for _, avg := range averages {
		byKey[avg.RegionKey] = avg
	}

	r641 := byKey["641"]
	if r641 == nil {
		t.Fatal("missing region 641")
	}
	if r641.SampleSize != 2 {
		t.Fatalf("expected sample size 2, got %d", r641.SampleSize)
	}
	if r641.AvgHeatSeconds != 2000 {
		t.Fatalf("expected avg heat 2000, got %f", r641.AvgHeatSeconds)
	}
	if r641.AvgCoolSeconds != 100 {
		t.Fatalf("expected avg cool 100, got %f", r641.AvgCoolSeconds)
	}
	if r641.AvgFanSeconds != 200 {
		t.Fatalf("expected avg fan 200, got %f", r641.AvgFanSeconds)
	}
	if r641.AvgTotalSeconds != 2300 {
		t.Fatalf("expected avg total 2300, got %f", r641.AvgTotalSeconds)
	}
	// Sensor means only cover devices that reported: both for
	// temperature, d2 alone for humidity.
	if r641.AvgTemperature == nil || *r641.AvgTemperature != 71 {
		t.Fatalf("expected avg temperature 71, got %v", r641.AvgTemperature)
	}
	if r641.AvgHumidity == nil || *r641.AvgHumidity != 40 {
		t.Fatalf("expected avg humidity 40, got %v", r641.AvgHumidity)
	}

	r902 := byKey["902"]
	if r902 == nil || r902.SampleSize != 1 || r902.AvgCoolSeconds != 600 {
		t.Fatalf("unexpected region 902: %+v", r902)
	}
	if r902.AvgTemperature != nil || r902.AvgHumidity != nil {
		t.Fatalf("expected nil sensor means without readings, got %+v", r902)
	}
}

func TestBuildRegionAveragesEmptyDay(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := BuildRegionAverages(day, nil, map[string]string{"d1": "641"}); len(got) != 0 {
		t.Fatalf("expected no averages, got %d", len(got))
	}
}
