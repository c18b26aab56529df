package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	devices "filterwatch/internal/devices/domain"
	devicespg "filterwatch/internal/devices/infrastructure/postgres"
	sessions "filterwatch/internal/sessions/domain"
)

// ResetService handles filter replacements. A reset zeroes the filter
// counter and stamps the boundary that future session credit is
// clipped against; lifetime runtime is untouched.
type ResetService struct {
	db     *sql.DB
	clock  sessions.Clock
	logger *log.Logger
}

// NewResetService constructs the service.
func NewResetService(db *sql.DB, clock sessions.Clock, logger *log.Logger) (*ResetService, error) {
	if db == nil {
		return nil, errors.New("reset service: nil db")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	return &ResetService{db: db, clock: clock, logger: logger}, nil
}

// ResetFilter marks the device's filter as replaced now.
func (s *ResetService) ResetFilter(ctx context.Context, deviceKey string) error {
	if deviceKey == "" {
		return devices.ErrEmptyDeviceKey
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset service: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	stateRepo := devicespg.NewStateRepository(tx)

	device, err := deviceRepo.Get(ctx, deviceKey)
	if err != nil {
		return err
	}
	state, err := stateRepo.GetForUpdate(ctx, deviceKey)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	state.ResetFilter(now)
	device.FilterUsagePercent = 0

	if err := stateRepo.Save(ctx, state); err != nil {
		return fmt.Errorf("reset service: save state: %w", err)
	}
	if err := deviceRepo.SaveUsage(ctx, device); err != nil {
		return fmt.Errorf("reset service: save usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset service: commit: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("filter_reset device=%s at=%s", deviceKey, now.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}
