package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	devices "filterwatch/internal/devices/domain"
	devicespg "filterwatch/internal/devices/infrastructure/postgres"
	"filterwatch/internal/filter"
	sessions "filterwatch/internal/sessions/domain"
	sessionspg "filterwatch/internal/sessions/infrastructure/postgres"
	telemetrypg "filterwatch/internal/telemetry/infrastructure/postgres"
)

// FilterDueNotifier receives devices whose filter usage reached the
// target. Delivery failures never fail a stitch run.
type FilterDueNotifier interface {
	NotifyFilterDue(ctx context.Context, device *devices.Device, state *devices.State) error
}

// StitchService is the session stitching worker. Each run opens a single
// transaction, walks every known device under its row lock, feeds new
// events through the stitcher, and commits cursor, state and filter
// counters together.
type StitchService struct {
	db         *sql.DB
	accountant *filter.Accountant
	clock      sessions.Clock
	tail       time.Duration
	maxSession time.Duration
	notifier   FilterDueNotifier
	logger     *log.Logger
}

// NewStitchService constructs the worker.
func NewStitchService(db *sql.DB, accountant *filter.Accountant, clock sessions.Clock, tail, maxSession time.Duration, logger *log.Logger) (*StitchService, error) {
	if db == nil {
		return nil, errors.New("stitch service: nil db")
	}
	if accountant == nil {
		return nil, errors.New("stitch service: nil accountant")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	return &StitchService{
		db:         db,
		accountant: accountant,
		clock:      clock,
		tail:       tail,
		maxSession: maxSession,
		logger:     logger,
	}, nil
}

// WithNotifier sets the filter-due notifier.
func (s *StitchService) WithNotifier(notifier FilterDueNotifier) *StitchService {
	s.notifier = notifier
	return s
}

// Run executes one stitching pass over all devices.
func (s *StitchService) Run(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stitch service: begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRepo := devicespg.NewDeviceRepository(tx)
	stateRepo := devicespg.NewStateRepository(tx)
	eventRepo := telemetrypg.NewEventRepository(tx)
	sessionRepo := sessionspg.NewSessionRepository(tx)

	stitcher, err := sessions.NewStitcher(sessionRepo, s.accountant, s.clock, s.tail, s.maxSession, s.logger)
	if err != nil {
		return err
	}

	// Devices appear in telemetry before anyone registers them. Make
	// sure each has a row so the pass below sees it.
	if err := deviceRepo.EnsureForEventDevices(ctx); err != nil {
		return fmt.Errorf("stitch service: ensure devices: %w", err)
	}

	all, err := deviceRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("stitch service: list devices: %w", err)
	}

	type duePair struct {
		device *devices.Device
		state  *devices.State
	}
	var due []duePair
	processed := 0
	for _, device := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := stateRepo.GetForUpdate(ctx, device.Key)
		if err != nil {
			return fmt.Errorf("stitch service: lock state %s: %w", device.Key, err)
		}
		events, err := eventRepo.ListSince(ctx, device.Key, state.LastEventTS)
		if err != nil {
			return fmt.Errorf("stitch service: list events %s: %w", device.Key, err)
		}
		priorPercent := device.FilterUsagePercent
		if err := stitcher.ProcessDevice(ctx, device, state, events); err != nil {
			return fmt.Errorf("stitch service: process %s: %w", device.Key, err)
		}
		if err := stateRepo.Save(ctx, state); err != nil {
			return fmt.Errorf("stitch service: save state %s: %w", device.Key, err)
		}
		if err := deviceRepo.SaveUsage(ctx, device); err != nil {
			return fmt.Errorf("stitch service: save usage %s: %w", device.Key, err)
		}
		if priorPercent < 100 && device.FilterUsagePercent >= 100 {
			due = append(due, duePair{device: device, state: state})
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stitch service: commit: %w", err)
	}

	// Notifications go out only once the counters are durable.
	for _, pair := range due {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.NotifyFilterDue(ctx, pair.device, pair.state); err != nil && s.logger != nil {
			s.logger.Printf("stitch_notify_failed device=%s err=%v", pair.device.Key, err)
		}
	}

	if s.logger != nil {
		s.logger.Printf("stitch_run_done devices=%d filters_due=%d", processed, len(due))
	}
	return nil
}
