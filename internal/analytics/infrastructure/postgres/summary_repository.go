package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	analytics "filterwatch/internal/analytics/domain"
	"filterwatch/internal/storage"
)

const (
	defaultSummaryTable = "daily_summaries"
	defaultRegionTable  = "region_daily_averages"
)

// SummaryRepository is a Postgres implementation of the summary store.
type SummaryRepository struct {
	db           storage.DBTX
	summaryTable string
	regionTable  string
}

// NewSummaryRepository constructs a repository with default table names.
func NewSummaryRepository(db storage.DBTX, opts ...SummaryRepositoryOption) *SummaryRepository {
	repo := &SummaryRepository{
		db:           db,
		summaryTable: defaultSummaryTable,
		regionTable:  defaultRegionTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SummaryRepositoryOption configures the repository.
type SummaryRepositoryOption func(*SummaryRepository)

// WithSummaryTable overrides the daily summary table name.
func WithSummaryTable(table string) SummaryRepositoryOption {
	return func(repo *SummaryRepository) {
		if table != "" {
			repo.summaryTable = table
		}
	}
}

// WithRegionTable overrides the region average table name.
func WithRegionTable(table string) SummaryRepositoryOption {
	return func(repo *SummaryRepository) {
		if table != "" {
			repo.regionTable = table
		}
	}
}

const summaryColumns = `
	device_key,
	day,
	session_count,
	heat_seconds,
	cool_seconds,
	fan_seconds,
	aux_heat_seconds,
	unknown_seconds,
	setting_heat_seconds,
	setting_cool_seconds,
	setting_auto_seconds,
	setting_off_seconds,
	setting_away_seconds,
	setting_eco_seconds,
	setting_other_seconds,
	avg_temperature,
	avg_humidity,
	validated_heat_seconds,
	validated_cool_seconds,
	validated_aux_seconds,
	validated_fan_seconds,
	validated_total_seconds,
	discrepancy_seconds,
	coverage_intervals,
	is_corrected,
	corrected_at,
	updated_at`

// Get loads one device's summary for a day.
func (r *SummaryRepository) Get(ctx context.Context, deviceKey string, day time.Time) (*analytics.DailySummary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("summary repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_key = $1 AND day = $2 LIMIT 1`, summaryColumns, r.summaryTable)
	summary, err := scanSummary(r.db.QueryRowContext(ctx, query, deviceKey, dateOf(day)))
	if err == sql.ErrNoRows {
		return nil, analytics.ErrSummaryNotFound
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Upsert overwrites a summary row. Validated fields are preserved so a
// rollup re-run does not wipe a prior validation pass.
func (r *SummaryRepository) Upsert(ctx context.Context, summary *analytics.DailySummary) error {
	if r == nil || r.db == nil {
		return errors.New("summary repo: nil db")
	}
	if summary == nil || summary.DeviceKey == "" {
		return errors.New("summary repo: invalid summary")
	}
	avgTemp := sql.NullFloat64{}
	if summary.AvgTemperature != nil {
		avgTemp = sql.NullFloat64{Float64: *summary.AvgTemperature, Valid: true}
	}
	avgHum := sql.NullFloat64{}
	if summary.AvgHumidity != nil {
		avgHum = sql.NullFloat64{Float64: *summary.AvgHumidity, Valid: true}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	device_key,
	day,
	session_count,
	heat_seconds,
	cool_seconds,
	fan_seconds,
	aux_heat_seconds,
	unknown_seconds,
	setting_heat_seconds,
	setting_cool_seconds,
	setting_auto_seconds,
	setting_off_seconds,
	setting_away_seconds,
	setting_eco_seconds,
	setting_other_seconds,
	avg_temperature,
	avg_humidity
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
)
ON CONFLICT (device_key, day) DO UPDATE SET
	session_count = EXCLUDED.session_count,
	heat_seconds = EXCLUDED.heat_seconds,
	cool_seconds = EXCLUDED.cool_seconds,
	fan_seconds = EXCLUDED.fan_seconds,
	aux_heat_seconds = EXCLUDED.aux_heat_seconds,
	unknown_seconds = EXCLUDED.unknown_seconds,
	setting_heat_seconds = EXCLUDED.setting_heat_seconds,
	setting_cool_seconds = EXCLUDED.setting_cool_seconds,
	setting_auto_seconds = EXCLUDED.setting_auto_seconds,
	setting_off_seconds = EXCLUDED.setting_off_seconds,
	setting_away_seconds = EXCLUDED.setting_away_seconds,
	setting_eco_seconds = EXCLUDED.setting_eco_seconds,
	setting_other_seconds = EXCLUDED.setting_other_seconds,
	avg_temperature = EXCLUDED.avg_temperature,
	avg_humidity = EXCLUDED.avg_humidity,
	updated_at = NOW()`, r.summaryTable)
	_, err := r.db.ExecContext(ctx, query,
		summary.DeviceKey,
		dateOf(summary.Day),
		summary.SessionCount,
		summary.HeatSeconds,
		summary.CoolSeconds,
		summary.FanSeconds,
		summary.AuxHeatSeconds,
		summary.UnknownSeconds,
		summary.SettingHeatSeconds,
		summary.SettingCoolSeconds,
		summary.SettingAutoSeconds,
		summary.SettingOffSeconds,
		summary.SettingAwaySeconds,
		summary.SettingEcoSeconds,
		summary.SettingOtherSeconds,
		avgTemp,
		avgHum,
	)
	return err
}

// SaveValidation persists the ground-truth fields of a summary after a
// validator pass.
func (r *SummaryRepository) SaveValidation(ctx context.Context, summary *analytics.DailySummary) error {
	if r == nil || r.db == nil {
		return errors.New("summary repo: nil db")
	}
	correctedAt := sql.NullTime{}
	if summary.CorrectedAt != nil {
		correctedAt = sql.NullTime{Time: summary.CorrectedAt.UTC(), Valid: true}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET
	heat_seconds = $3,
	cool_seconds = $4,
	fan_seconds = $5,
	aux_heat_seconds = $6,
	unknown_seconds = $16,
	validated_heat_seconds = $7,
	validated_cool_seconds = $8,
	validated_aux_seconds = $9,
	validated_fan_seconds = $10,
	validated_total_seconds = $11,
	discrepancy_seconds = $12,
	coverage_intervals = $13,
	is_corrected = $14,
	corrected_at = $15,
	updated_at = NOW()
WHERE device_key = $1 AND day = $2`, r.summaryTable)
	result, err := r.db.ExecContext(ctx, query,
		summary.DeviceKey,
		dateOf(summary.Day),
		summary.HeatSeconds,
		summary.CoolSeconds,
		summary.FanSeconds,
		summary.AuxHeatSeconds,
		summary.ValidatedHeatSeconds,
		summary.ValidatedCoolSeconds,
		summary.ValidatedAuxSeconds,
		summary.ValidatedFanSeconds,
		summary.ValidatedTotalSeconds,
		summary.DiscrepancySeconds,
		summary.CoverageIntervals,
		summary.IsCorrected,
		correctedAt,
		summary.UnknownSeconds,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return analytics.ErrSummaryNotFound
	}
	return nil
}

// ListForDay returns all device summaries for one calendar day.
func (r *SummaryRepository) ListForDay(ctx context.Context, day time.Time) ([]*analytics.DailySummary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("summary repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE day = $1 ORDER BY device_key ASC`, summaryColumns, r.summaryTable)
	rows, err := r.db.QueryContext(ctx, query, dateOf(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*analytics.DailySummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertRegion overwrites one region's averages for a day.
func (r *SummaryRepository) UpsertRegion(ctx context.Context, avg *analytics.RegionAverage) error {
	if r == nil || r.db == nil {
		return errors.New("summary repo: nil db")
	}
	if avg == nil || avg.RegionKey == "" {
		return errors.New("summary repo: invalid region average")
	}
	avgTemp := sql.NullFloat64{}
	if avg.AvgTemperature != nil {
		avgTemp = sql.NullFloat64{Float64: *avg.AvgTemperature, Valid: true}
	}
	avgHum := sql.NullFloat64{}
	if avg.AvgHumidity != nil {
		avgHum = sql.NullFloat64{Float64: *avg.AvgHumidity, Valid: true}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	region_key,
	day,
	sample_size,
	avg_heat_seconds,
	avg_cool_seconds,
	avg_fan_seconds,
	avg_total_seconds,
	avg_temperature,
	avg_humidity
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (region_key, day) DO UPDATE SET
	sample_size = EXCLUDED.sample_size,
	avg_heat_seconds = EXCLUDED.avg_heat_seconds,
	avg_cool_seconds = EXCLUDED.avg_cool_seconds,
	avg_fan_seconds = EXCLUDED.avg_fan_seconds,
	avg_total_seconds = EXCLUDED.avg_total_seconds,
	avg_temperature = EXCLUDED.avg_temperature,
	avg_humidity = EXCLUDED.avg_humidity,
	updated_at = NOW()`, r.regionTable)
	_, err := r.db.ExecContext(ctx, query,
		avg.RegionKey,
		dateOf(avg.Day),
		avg.SampleSize,
		avg.AvgHeatSeconds,
		avg.AvgCoolSeconds,
		avg.AvgFanSeconds,
		avg.AvgTotalSeconds,
		avgTemp,
		avgHum,
	)
	return err
}

func dateOf(t time.Time) string {
	return t.Format("2006-01-02")
}

func scanSummary(scanner interface{ Scan(dest ...any) error }) (*analytics.DailySummary, error) {
	var (
		summary     analytics.DailySummary
		avgTemp     sql.NullFloat64
		avgHum      sql.NullFloat64
		correctedAt sql.NullTime
		updatedAt   sql.NullTime
	)
	if err := scanner.Scan(
		&summary.DeviceKey,
		&summary.Day,
		&summary.SessionCount,
		&summary.HeatSeconds,
		&summary.CoolSeconds,
		&summary.FanSeconds,
		&summary.AuxHeatSeconds,
		&summary.UnknownSeconds,
		&summary.SettingHeatSeconds,
		&summary.SettingCoolSeconds,
		&summary.SettingAutoSeconds,
		&summary.SettingOffSeconds,
		&summary.SettingAwaySeconds,
		&summary.SettingEcoSeconds,
		&summary.SettingOtherSeconds,
		&avgTemp,
		&avgHum,
		&summary.ValidatedHeatSeconds,
		&summary.ValidatedCoolSeconds,
		&summary.ValidatedAuxSeconds,
		&summary.ValidatedFanSeconds,
		&summary.ValidatedTotalSeconds,
		&summary.DiscrepancySeconds,
		&summary.CoverageIntervals,
		&summary.IsCorrected,
		&correctedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if avgTemp.Valid {
		summary.AvgTemperature = &avgTemp.Float64
	}
	if avgHum.Valid {
		summary.AvgHumidity = &avgHum.Float64
	}
	if correctedAt.Valid {
		t := correctedAt.Time.UTC()
		summary.CorrectedAt = &t
	}
	if updatedAt.Valid {
		summary.UpdatedAt = updatedAt.Time.UTC()
	}
	return &summary, nil
}
