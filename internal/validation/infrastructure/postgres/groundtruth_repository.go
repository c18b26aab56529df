package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filterwatch/internal/storage"
	validation "filterwatch/internal/validation/domain"
)

const defaultIntervalTable = "runtime_intervals"

// GroundTruthRepository reads metered runtime intervals from Postgres.
type GroundTruthRepository struct {
	db    storage.DBTX
	table string
}

// NewGroundTruthRepository constructs a repository with the default
// table name.
func NewGroundTruthRepository(db storage.DBTX, opts ...GroundTruthRepositoryOption) *GroundTruthRepository {
	repo := &GroundTruthRepository{db: db, table: defaultIntervalTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// GroundTruthRepositoryOption configures the repository.
type GroundTruthRepositoryOption func(*GroundTruthRepository)

// WithTable overrides the default table name.
func WithTable(table string) GroundTruthRepositoryOption {
	return func(repo *GroundTruthRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ListRange returns intervals with interval_start in [from, to).
func (r *GroundTruthRepository) ListRange(ctx context.Context, deviceKey string, from, to time.Time) ([]validation.GroundTruthInterval, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ground truth repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT
	device_key,
	interval_start,
	aux_heat1_seconds,
	aux_heat2_seconds,
	comp_cool1_seconds,
	comp_cool2_seconds,
	comp_heat1_seconds,
	comp_heat2_seconds,
	fan_seconds
FROM %s
WHERE device_key = $1
	AND interval_start >= $2
	AND interval_start < $3
ORDER BY interval_start ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, deviceKey, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []validation.GroundTruthInterval
	for rows.Next() {
		var iv validation.GroundTruthInterval
		if err := rows.Scan(
			&iv.DeviceKey,
			&iv.IntervalStart,
			&iv.AuxHeat1Seconds,
			&iv.AuxHeat2Seconds,
			&iv.CompCool1Seconds,
			&iv.CompCool2Seconds,
			&iv.CompHeat1Seconds,
			&iv.CompHeat2Seconds,
			&iv.FanSeconds,
		); err != nil {
			return nil, err
		}
		iv.IntervalStart = iv.IntervalStart.UTC()
		result = append(result, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
