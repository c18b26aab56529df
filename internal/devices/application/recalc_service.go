package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	devices "filterwatch/internal/devices/domain"
	devicespg "filterwatch/internal/devices/infrastructure/postgres"
	"filterwatch/internal/filter"
	sessions "filterwatch/internal/sessions/domain"
	sessionspg "filterwatch/internal/sessions/infrastructure/postgres"
)

// RecalcService rebuilds a device's filter counter by replaying its
// closed sessions since the last reset under the current inclusion
// policy. Run after use_forced_air_for_heat changes, since sessions
// credited under the old policy keep their old contribution otherwise.
type RecalcService struct {
	db         *sql.DB
	accountant *filter.Accountant
	logger     *log.Logger
}

// NewRecalcService constructs the service.
func NewRecalcService(db *sql.DB, accountant *filter.Accountant, logger *log.Logger) (*RecalcService, error) {
	if db == nil {
		return nil, errors.New("recalc service: nil db")
	}
	if accountant == nil {
		return nil, errors.New("recalc service: nil accountant")
	}
	return &RecalcService{db: db, accountant: accountant, logger: logger}, nil
}

// RecalcFilterUsage replays the device's closed sessions and persists
// the rebuilt counter and percent.
func (s *RecalcService) RecalcFilterUsage(ctx context.Context, deviceKey string) error {
	if deviceKey == "" {
		return devices.ErrEmptyDeviceKey
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recalc service: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	stateRepo := devicespg.NewStateRepository(tx)
	sessionRepo := sessionspg.NewSessionRepository(tx)

	device, err := deviceRepo.Get(ctx, deviceKey)
	if err != nil {
		return err
	}
	state, err := stateRepo.GetForUpdate(ctx, deviceKey)
	if err != nil {
		return err
	}

	closed, err := sessionRepo.ListClosedSince(ctx, deviceKey, state.LastResetTS)
	if err != nil {
		return fmt.Errorf("recalc service: list sessions: %w", err)
	}
	recalcDevice(s.accountant, device, state, closed)

	if err := stateRepo.Save(ctx, state); err != nil {
		return fmt.Errorf("recalc service: save state: %w", err)
	}
	if err := deviceRepo.SaveUsage(ctx, device); err != nil {
		return fmt.Errorf("recalc service: save usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recalc service: commit: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("filter_recalc device=%s sessions=%d filter_hours=%.2f percent=%d",
			deviceKey, len(closed), state.FilterHoursUsed, device.FilterUsagePercent)
	}
	return nil
}

// recalcDevice maps stored sessions onto the accountant's replay input.
// Open sessions carry no settled runtime and are skipped.
func recalcDevice(accountant *filter.Accountant, device *devices.Device, state *devices.State, closed []*sessions.RuntimeSession) {
	intervals := make([]filter.ClosedInterval, 0, len(closed))
	for _, session := range closed {
		if session.EndedAt == nil {
			continue
		}
		intervals = append(intervals, filter.ClosedInterval{
			EquipmentStatus: session.EquipmentStatus,
			StartedAt:       session.StartedAt,
			EndedAt:         *session.EndedAt,
		})
	}
	accountant.Recalculate(device, state, intervals)
}
