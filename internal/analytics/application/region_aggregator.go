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
	devicespg "filterwatch/internal/devices/infrastructure/postgres"
	sessions "filterwatch/internal/sessions/domain"
)

// RegionAggregator rolls per-device daily summaries into mean runtimes
// per postal-prefix region. Devices without a postal code never enter a
// region.
type RegionAggregator struct {
	db       *sql.DB
	clock    sessions.Clock
	lookback int
	logger   *log.Logger
}

// NewRegionAggregator constructs the worker.
func NewRegionAggregator(db *sql.DB, clock sessions.Clock, lookbackDays int, logger *log.Logger) (*RegionAggregator, error) {
	if db == nil {
		return nil, errors.New("region aggregator: nil db")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &RegionAggregator{db: db, clock: clock, lookback: lookbackDays, logger: logger}, nil
}

// Run recomputes region averages over the lookback window.
func (a *RegionAggregator) Run(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("region aggregator: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	summaryRepo := analyticspg.NewSummaryRepository(tx)

	all, err := deviceRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("region aggregator: list devices: %w", err)
	}
	regions := make(map[string]string, len(all))
	for _, device := range all {
		if key := device.RegionKey(); key != "" {
			regions[device.Key] = key
		}
	}

	now := a.clock.Now().UTC()
	upserts := 0
	for back := 1; back <= a.lookback; back++ {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -back)
		summaries, err := summaryRepo.ListForDay(ctx, day)
		if err != nil {
			return fmt.Errorf("region aggregator: list day %s: %w", day.Format("2006-01-02"), err)
		}
		for _, avg := range BuildRegionAverages(day, summaries, regions) {
			if err := summaryRepo.UpsertRegion(ctx, avg); err != nil {
				return fmt.Errorf("region aggregator: upsert region %s: %w", avg.RegionKey, err)
			}
			upserts++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("region aggregator: commit: %w", err)
	}
	if a.logger != nil {
		a.logger.Printf("region_rollup_done regions=%d", upserts)
	}
	return nil
}

// BuildRegionAverages groups a day's summaries by region and computes
// the per-region means: runtime over every member device, temperature
// and humidity over the devices that reported readings. Each device
// counts once per day.
func BuildRegionAverages(day time.Time, summaries []*analytics.DailySummary, regions map[string]string) []*analytics.RegionAverage {
	type bucket struct {
		heat, cool, fan, total int64
		tempSum, humSum        float64
		tempCount, humCount    int
		devices                map[string]struct{}
	}
	buckets := make(map[string]*bucket)
	for _, summary := range summaries {
		regionKey, ok := regions[summary.DeviceKey]
		if !ok {
			continue
		}
		b := buckets[regionKey]
		if b == nil {
			b = &bucket{devices: make(map[string]struct{})}
			buckets[regionKey] = b
		}
		b.heat += summary.HeatSeconds
		b.cool += summary.CoolSeconds
		b.fan += summary.FanSeconds
		b.total += summary.TotalSeconds()
		if summary.AvgTemperature != nil {
			b.tempSum += *summary.AvgTemperature
			b.tempCount++
		}
		if summary.AvgHumidity != nil {
			b.humSum += *summary.AvgHumidity
			b.humCount++
		}
		b.devices[summary.DeviceKey] = struct{}{}
	}

	var result []*analytics.RegionAverage
	for regionKey, b := range buckets {
		n := float64(len(b.devices))
		if n == 0 {
			continue
		}
		avg := &analytics.RegionAverage{
			RegionKey:       regionKey,
			Day:             day,
			SampleSize:      len(b.devices),
			AvgHeatSeconds:  float64(b.heat) / n,
			AvgCoolSeconds:  float64(b.cool) / n,
			AvgFanSeconds:   float64(b.fan) / n,
			AvgTotalSeconds: float64(b.total) / n,
		}
		if b.tempCount > 0 {
			temp := b.tempSum / float64(b.tempCount)
			avg.AvgTemperature = &temp
		}
		if b.humCount > 0 {
			hum := b.humSum / float64(b.humCount)
			avg.AvgHumidity = &hum
		}
		result = append(result, avg)
	}
	return result
}
