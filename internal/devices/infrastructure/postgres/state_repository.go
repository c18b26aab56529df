package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/storage"
)

const defaultStateTable = "device_state"

// StateRepository persists the per-device cursor and counters. The state
// row is the unit of mutual exclusion for concurrent worker runs.
type StateRepository struct {
	db    storage.DBTX
	table string
}

// NewStateRepository constructs a repository with the default table name.
func NewStateRepository(db storage.DBTX, opts ...StateRepositoryOption) *StateRepository {
	repo := &StateRepository{db: db, table: defaultStateTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StateRepositoryOption configures the repository.
type StateRepositoryOption func(*StateRepository)

// WithStateTable overrides the default table name.
func WithStateTable(table string) StateRepositoryOption {
	return func(repo *StateRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const stateColumns = `
	device_key,
	last_event_ts,
	open_session_id,
	is_active,
	hours_used_total,
	filter_hours_used,
	last_reset_ts,
	updated_at`

// GetForUpdate locks and returns the device state row, creating a zero
// row first when the device has never been processed. Must run inside a
// transaction.
func (r *StateRepository) GetForUpdate(ctx context.Context, deviceKey string) (*devices.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	if deviceKey == "" {
		return nil, devices.ErrEmptyDeviceKey
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (device_key, last_event_ts, is_active, hours_used_total, filter_hours_used)
VALUES ($1, 'epoch', FALSE, 0, 0)
ON CONFLICT (device_key) DO NOTHING`, r.table)
	if _, err := r.db.ExecContext(ctx, insert, deviceKey); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_key = $1 FOR UPDATE`, stateColumns, r.table)
	return scanState(r.db.QueryRowContext(ctx, query, deviceKey))
}

// Get returns the device state without locking.
func (r *StateRepository) Get(ctx context.Context, deviceKey string) (*devices.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_key = $1 LIMIT 1`, stateColumns, r.table)
	state, err := scanState(r.db.QueryRowContext(ctx, query, deviceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, devices.ErrDeviceNotFound
	}
	return state, err
}

// Save upserts the device state.
func (r *StateRepository) Save(ctx context.Context, state *devices.State) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	if state == nil || state.DeviceKey == "" {
		return devices.ErrEmptyDeviceKey
	}

	openSession := sql.NullString{}
	if state.OpenSessionID != "" {
		openSession = sql.NullString{String: state.OpenSessionID, Valid: true}
	}
	lastReset := sql.NullTime{}
	if !state.LastResetTS.IsZero() {
		lastReset = sql.NullTime{Time: state.LastResetTS.UTC(), Valid: true}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_key,
	last_event_ts,
	open_session_id,
	is_active,
	hours_used_total,
	filter_hours_used,
	last_reset_ts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (device_key)
DO UPDATE SET
	last_event_ts = EXCLUDED.last_event_ts,
	open_session_id = EXCLUDED.open_session_id,
	is_active = EXCLUDED.is_active,
	hours_used_total = EXCLUDED.hours_used_total,
	filter_hours_used = EXCLUDED.filter_hours_used,
	last_reset_ts = EXCLUDED.last_reset_ts,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		state.DeviceKey,
		state.LastEventTS.UTC(),
		openSession,
		state.IsActive,
		state.HoursUsedTotal,
		state.FilterHoursUsed,
		lastReset,
	)
	return err
}

func scanState(scanner interface{ Scan(dest ...any) error }) (*devices.State, error) {
	var (
		state       devices.State
		openSession sql.NullString
		lastReset   sql.NullTime
		updatedAt   sql.NullTime
	)
	if err := scanner.Scan(
		&state.DeviceKey,
		&state.LastEventTS,
		&openSession,
		&state.IsActive,
		&state.HoursUsedTotal,
		&state.FilterHoursUsed,
		&lastReset,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	state.LastEventTS = state.LastEventTS.UTC()
	if openSession.Valid {
		state.OpenSessionID = openSession.String
	}
	if lastReset.Valid {
		state.LastResetTS = lastReset.Time.UTC()
	}
	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time.UTC()
	}
	return &state, nil
}
