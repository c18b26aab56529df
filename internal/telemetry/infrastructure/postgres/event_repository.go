package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filterwatch/internal/storage"
	telemetry "filterwatch/internal/telemetry/domain"
)

const defaultEventTable = "equipment_events"

// EventRepository reads immutable equipment events.
type EventRepository struct {
	db    storage.DBTX
	table string
}

// NewEventRepository constructs a repository with the default table name.
func NewEventRepository(db storage.DBTX, opts ...EventRepositoryOption) *EventRepository {
	repo := &EventRepository{db: db, table: defaultEventTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EventRepositoryOption configures the repository.
type EventRepositoryOption func(*EventRepository)

// WithEventTable overrides the default table name.
func WithEventTable(table string) EventRepositoryOption {
	return func(repo *EventRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const eventColumns = `
	id,
	device_key,
	equipment_status,
	previous_status,
	is_active,
	runtime_seconds,
	thermostat_mode,
	temperature,
	humidity,
	recorded_at`

// ListSince returns a device's events strictly after the cursor, oldest
// first.
func (r *EventRepository) ListSince(ctx context.Context, deviceKey string, after time.Time) ([]telemetry.EquipmentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_key = $1
	AND recorded_at > $2
ORDER BY recorded_at ASC, id ASC`, eventColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceKey, after.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRange returns a device's events within [from, to), oldest first.
func (r *EventRepository) ListRange(ctx context.Context, deviceKey string, from, to time.Time) ([]telemetry.EquipmentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_key = $1
	AND recorded_at >= $2
	AND recorded_at < $3
ORDER BY recorded_at ASC, id ASC`, eventColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceKey, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// NextModeChangeAfter returns the first event at or after ts that carries
// a thermostat mode, or nil when the given setting is still current.
func (r *EventRepository) NextModeChangeAfter(ctx context.Context, deviceKey string, ts time.Time) (*telemetry.EquipmentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_key = $1
	AND recorded_at >= $2
	AND thermostat_mode IS NOT NULL
ORDER BY recorded_at ASC, id ASC
LIMIT 1`, eventColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, deviceKey, ts.UTC())
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEvents(rows *sql.Rows) ([]telemetry.EquipmentEvent, error) {
	var result []telemetry.EquipmentEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEvent(scanner rowScanner) (telemetry.EquipmentEvent, error) {
	var (
		event          telemetry.EquipmentEvent
		previousStatus sql.NullString
		isActive       sql.NullBool
		runtimeSeconds sql.NullInt64
		thermostatMode sql.NullString
		temperature    sql.NullFloat64
		humidity       sql.NullFloat64
	)
	if err := scanner.Scan(
		&event.ID,
		&event.DeviceKey,
		&event.EquipmentStatus,
		&previousStatus,
		&isActive,
		&runtimeSeconds,
		&thermostatMode,
		&temperature,
		&humidity,
		&event.RecordedAt,
	); err != nil {
		return telemetry.EquipmentEvent{}, err
	}
	event.RecordedAt = event.RecordedAt.UTC()
	if previousStatus.Valid {
		event.PreviousStatus = &previousStatus.String
	}
	if isActive.Valid {
		event.IsActive = &isActive.Bool
	}
	if runtimeSeconds.Valid {
		event.RuntimeSeconds = &runtimeSeconds.Int64
	}
	if thermostatMode.Valid {
		event.ThermostatMode = &thermostatMode.String
	}
	if temperature.Valid {
		event.Temperature = &temperature.Float64
	}
	if humidity.Valid {
		event.Humidity = &humidity.Float64
	}
	return event, nil
}
