package sessions

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/filter"
	"filterwatch/internal/observability/metrics"
	telemetry "filterwatch/internal/telemetry/domain"
)

const (
	// DefaultTail is the grace period after an observed off signal
	// before a session is considered truly ended. Absorbs residual fan
	// runtime after the equipment logs off.
	DefaultTail = 180 * time.Second

	// DefaultMaxSession is the sanity ceiling for a single reconstructed
	// session. Longer computed durations are treated as polling-gap
	// artifacts and dropped without credit.
	DefaultMaxSession = 2 * time.Hour
)

// Stitcher turns a device's ordered event stream into discrete runtime
// sessions and advances the device cursor. It never reorders events and
// never leaves more than one open session per device.
type Stitcher struct {
	repo       Repository
	accountant *filter.Accountant
	clock      Clock
	tail       time.Duration
	maxSession time.Duration
	logger     *log.Logger
}

// NewStitcher constructs a Stitcher.
func NewStitcher(repo Repository, accountant *filter.Accountant, clock Clock, tail, maxSession time.Duration, logger *log.Logger) (*Stitcher, error) {
	if repo == nil {
		return nil, errors.New("stitcher: nil repository")
	}
	if accountant == nil {
		return nil, errors.New("stitcher: nil accountant")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if tail <= 0 {
		tail = DefaultTail
	}
	if maxSession <= 0 {
		maxSession = DefaultMaxSession
	}
	return &Stitcher{
		repo:       repo,
		accountant: accountant,
		clock:      clock,
		tail:       tail,
		maxSession: maxSession,
		logger:     logger,
	}, nil
}

// ProcessDevice consumes the device's new events (ordered by recorded_at
// ascending), mutates session rows and the in-memory state, and runs the
// stale-close sweep. The caller persists state and device afterwards,
// inside the same transaction the repository is bound to.
func (s *Stitcher) ProcessDevice(ctx context.Context, device *devices.Device, state *devices.State, events []telemetry.EquipmentEvent) error {
	if device == nil || state == nil {
		return errors.New("stitcher: nil device or state")
	}

	open, err := s.loadOpen(ctx, state)
	if err != nil {
		return err
	}

	for _, event := range events {
		if event.HasPostedRuntime() {
			if err := s.applyPostedRuntime(ctx, device, state, event); err != nil {
				return err
			}
		} else {
			open, err = s.applyTransition(ctx, device, state, open, event)
			if err != nil {
				return err
			}
		}
		state.LastEventTS = event.RecordedAt.UTC()
	}

	if err := s.sweepStale(ctx, device, state, open); err != nil {
		return err
	}

	// Counters or the target hours may have moved outside this pass;
	// the cached percent is refreshed every run, events or not.
	device.FilterUsagePercent = devices.UsagePercent(state.FilterHoursUsed, device.FilterTargetHours)
	return nil
}

func (s *Stitcher) loadOpen(ctx context.Context, state *devices.State) (*RuntimeSession, error) {
	if state.OpenSessionID == "" {
		return nil, nil
	}
	open, err := s.repo.Get(ctx, state.OpenSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		// Pointer without a row: heal by clearing it.
		s.logf("stitcher_dangling_open_session device=%s session=%s", state.DeviceKey, state.OpenSessionID)
		state.OpenSessionID = ""
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return open, nil
}

// applyPostedRuntime treats the event as an authoritative closed interval
// ending at recorded_at, independent of any open session.
func (s *Stitcher) applyPostedRuntime(ctx context.Context, device *devices.Device, state *devices.State, event telemetry.EquipmentEvent) error {
	status := event.EffectiveStatus()
	if status == "" {
		s.logf("stitcher_skip_event reason=missing_status device=%s recorded_at=%s", event.DeviceKey, event.RecordedAt.Format(time.RFC3339))
		return nil
	}

	endedAt := event.RecordedAt.UTC()
	startedAt := endedAt.Add(-time.Duration(*event.RuntimeSeconds) * time.Second)
	session := &RuntimeSession{
		ID:              uuid.NewString(),
		DeviceKey:       event.DeviceKey,
		Mode:            devices.Classify(status).Mode,
		EquipmentStatus: status,
		StartedAt:       startedAt,
		TickCount:       1,
		LastTickAt:      endedAt,
	}
	if err := session.Close(endedAt, TerminatedPostedRuntime); err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		return err
	}
	metrics.IncSessionClosed(TerminatedPostedRuntime)
	s.accountant.Credit(device, state, status, startedAt, endedAt)
	return nil
}

// applyTransition runs one step of the OFF/ON state machine. An explicit
// is_active flag always wins over the status-token match.
func (s *Stitcher) applyTransition(ctx context.Context, device *devices.Device, state *devices.State, open *RuntimeSession, event telemetry.EquipmentEvent) (*RuntimeSession, error) {
	_ = device

	active := devices.IsActiveStatus(event.EquipmentStatus)
	if event.IsActive != nil {
		active = *event.IsActive
	}

	switch {
	case active && open == nil:
		session := &RuntimeSession{
			ID:              uuid.NewString(),
			DeviceKey:       event.DeviceKey,
			Mode:            devices.Classify(event.EquipmentStatus).Mode,
			EquipmentStatus: event.EquipmentStatus,
			StartedAt:       event.RecordedAt.UTC(),
			TickCount:       1,
			LastTickAt:      event.RecordedAt.UTC(),
		}
		if err := s.repo.Insert(ctx, session); err != nil {
			return nil, err
		}
		state.OpenSessionID = session.ID
		state.IsActive = true
		return session, nil

	case active && open != nil:
		open.TickCount++
		open.LastTickAt = event.RecordedAt.UTC()
		state.IsActive = true
		if err := s.repo.Update(ctx, open); err != nil {
			return nil, err
		}
		return open, nil

	case !active && state.IsActive:
		// Do not close yet: the physical fan may outlive the reported
		// off. The stale-close sweep settles it after the tail.
		state.IsActive = false
		return open, nil

	default:
		return open, nil
	}
}

// sweepStale closes or discards the open session once the device has
// been inactive past the tail grace period.
func (s *Stitcher) sweepStale(ctx context.Context, device *devices.Device, state *devices.State, open *RuntimeSession) error {
	if open == nil || state.IsActive {
		return nil
	}
	now := s.clock.Now()
	closeAt := state.LastEventTS.Add(s.tail)
	if now.Before(closeAt) {
		return nil
	}

	duration := closeAt.Sub(open.StartedAt)
	if duration > s.maxSession {
		// Polling-gap artifact: drop the whole session rather than bill
		// phantom runtime against the filter.
		if err := s.repo.Delete(ctx, open.ID); err != nil {
			return err
		}
		state.OpenSessionID = ""
		metrics.IncSessionRejected()
		s.logf("stitcher_session_rejected reason=sanity_ceiling device=%s session=%s duration_s=%d", state.DeviceKey, open.ID, int64(duration.Seconds()))
		return nil
	}

	if err := open.Close(closeAt, TerminatedTailClose); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, open); err != nil {
		return err
	}
	state.OpenSessionID = ""
	metrics.IncSessionClosed(TerminatedTailClose)
	s.accountant.Credit(device, state, open.EquipmentStatus, open.StartedAt, closeAt)
	return nil
}

func (s *Stitcher) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
