package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	analytics "filterwatch/internal/analytics/domain"
)

// SummaryRepository is an in-memory summary store for tests.
type SummaryRepository struct {
	mu        sync.RWMutex
	summaries map[string]*analytics.DailySummary
	regions   map[string]*analytics.RegionAverage
}

// NewSummaryRepository constructs a repository.
func NewSummaryRepository() *SummaryRepository {
	return &SummaryRepository{
		summaries: make(map[string]*analytics.DailySummary),
		regions:   make(map[string]*analytics.RegionAverage),
	}
}

func summaryKey(deviceKey string, day time.Time) string {
	return deviceKey + "|" + day.Format("2006-01-02")
}

// Get loads one device's summary for a day.
func (r *SummaryRepository) Get(ctx context.Context, deviceKey string, day time.Time) (*analytics.DailySummary, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	summary, ok := r.summaries[summaryKey(deviceKey, day)]
	if !ok {
		return nil, analytics.ErrSummaryNotFound
	}
	clone := *summary
	return &clone, nil
}

// Upsert overwrites the aggregated fields of a summary, preserving any
// previously stored validation fields like the Postgres upsert does.
func (r *SummaryRepository) Upsert(ctx context.Context, summary *analytics.DailySummary) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := summaryKey(summary.DeviceKey, summary.Day)
	clone := *summary
	if prior, ok := r.summaries[key]; ok {
		clone.ValidatedHeatSeconds = prior.ValidatedHeatSeconds
		clone.ValidatedCoolSeconds = prior.ValidatedCoolSeconds
		clone.ValidatedAuxSeconds = prior.ValidatedAuxSeconds
		clone.ValidatedFanSeconds = prior.ValidatedFanSeconds
		clone.ValidatedTotalSeconds = prior.ValidatedTotalSeconds
		clone.DiscrepancySeconds = prior.DiscrepancySeconds
		clone.CoverageIntervals = prior.CoverageIntervals
		clone.IsCorrected = prior.IsCorrected
		clone.CorrectedAt = prior.CorrectedAt
	}
	r.summaries[key] = &clone
	return nil
}

// SaveValidation persists the ground-truth fields of a summary.
func (r *SummaryRepository) SaveValidation(ctx context.Context, summary *analytics.DailySummary) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := summaryKey(summary.DeviceKey, summary.Day)
	if _, ok := r.summaries[key]; !ok {
		return analytics.ErrSummaryNotFound
	}
	clone := *summary
	r.summaries[key] = &clone
	return nil
}

// ListForDay returns all device summaries for one calendar day.
func (r *SummaryRepository) ListForDay(ctx context.Context, day time.Time) ([]*analytics.DailySummary, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	date := day.Format("2006-01-02")
	var result []*analytics.DailySummary
	for _, summary := range r.summaries {
		if summary.Day.Format("2006-01-02") != date {
			continue
		}
		clone := *summary
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceKey < result[j].DeviceKey })
	return result, nil
}

// UpsertRegion overwrites one region's averages for a day.
func (r *SummaryRepository) UpsertRegion(ctx context.Context, avg *analytics.RegionAverage) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *avg
	r.regions[avg.RegionKey+"|"+avg.Day.Format("2006-01-02")] = &clone
	return nil
}

// Regions returns every stored region average. Test helper.
func (r *SummaryRepository) Regions() []*analytics.RegionAverage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*analytics.RegionAverage
	for _, avg := range r.regions {
		clone := *avg
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegionKey < result[j].RegionKey })
	return result
}
