package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/storage"
)

const (
	defaultDeviceTable = "devices"
	defaultEventTable  = "equipment_events"
)

// DeviceRepository persists device identity and configuration.
type DeviceRepository struct {
	db          storage.DBTX
	table       string
	eventsTable string
}

// NewDeviceRepository constructs a repository with default table names.
func NewDeviceRepository(db storage.DBTX, opts ...DeviceRepositoryOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDeviceTable, eventsTable: defaultEventTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceRepositoryOption configures the repository.
type DeviceRepositoryOption func(*DeviceRepository)

// WithDeviceTable overrides the default device table name.
func WithDeviceTable(table string) DeviceRepositoryOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const deviceColumns = `
	device_key,
	vendor_id,
	timezone,
	postal_code,
	filter_target_hours,
	use_forced_air_for_heat,
	filter_usage_percent,
	created_at,
	updated_at`

// EnsureForEventDevices inserts a bare device row for every device key
// seen in the event stream that has no device yet. Devices are created on
// first event; configuration arrives later from the external surface.
func (r *DeviceRepository) EnsureForEventDevices(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_key, vendor_id, timezone, filter_target_hours, use_forced_air_for_heat, filter_usage_percent)
SELECT DISTINCT device_key, '', '', 0, FALSE, 0
FROM %s
ON CONFLICT (device_key) DO NOTHING`, r.table, r.eventsTable)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Get fetches one device.
func (r *DeviceRepository) Get(ctx context.Context, deviceKey string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if deviceKey == "" {
		return nil, devices.ErrEmptyDeviceKey
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_key = $1 LIMIT 1`, deviceColumns, r.table)
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceKey))
	if err == sql.ErrNoRows {
		return nil, devices.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// ListAll returns every device ordered by key.
func (r *DeviceRepository) ListAll(ctx context.Context) ([]*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY device_key ASC`, deviceColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveUsage persists the derived filter usage percent.
func (r *DeviceRepository) SaveUsage(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil || device.Key == "" {
		return devices.ErrEmptyDeviceKey
	}
	query := fmt.Sprintf(`
UPDATE %s
SET filter_usage_percent = $2, updated_at = NOW()
WHERE device_key = $1`, r.table)
	_, err := r.db.ExecContext(ctx, query, device.Key, device.FilterUsagePercent)
	return err
}

func scanDevice(scanner interface{ Scan(dest ...any) error }) (*devices.Device, error) {
	var device devices.Device
	if err := scanner.Scan(
		&device.Key,
		&device.VendorID,
		&device.Timezone,
		&device.PostalCode,
		&device.FilterTargetHours,
		&device.UseForcedAirForHeat,
		&device.FilterUsagePercent,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
