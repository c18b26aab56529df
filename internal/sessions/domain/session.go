package sessions

import (
	"context"
	"errors"
	"time"

	devices "filterwatch/internal/devices/domain"
)

var (
	// ErrSessionNotFound indicates a missing session row.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrSessionOpen indicates an operation that requires a closed session.
	ErrSessionOpen = errors.New("sessions: session still open")
)

// Termination reasons for closed sessions.
const (
	TerminatedTailClose     = "tail_close"
	TerminatedPostedRuntime = "posted_runtime"
)

// RuntimeSession is a reconstructed continuous interval of running
// equipment. EndedAt is nil while the session is open; RuntimeSeconds is
// meaningful only once closed.
type RuntimeSession struct {
	ID               string
	DeviceKey        string
	Mode             devices.HVACMode
	EquipmentStatus  string
	StartedAt        time.Time
	EndedAt          *time.Time
	RuntimeSeconds   int64
	TickCount        int
	LastTickAt       time.Time
	TerminatedReason string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOpen reports whether the session has not been closed yet.
func (s *RuntimeSession) IsOpen() bool {
	return s != nil && s.EndedAt == nil
}

// Close marks the session ended at the given instant.
func (s *RuntimeSession) Close(endedAt time.Time, reason string) error {
	if s == nil {
		return ErrSessionNotFound
	}
	if !endedAt.After(s.StartedAt) {
		return errors.New("sessions: ended_at not after started_at")
	}
	ended := endedAt.UTC()
	s.EndedAt = &ended
	s.RuntimeSeconds = int64(ended.Sub(s.StartedAt).Seconds())
	s.TerminatedReason = reason
	return nil
}

// Repository defines the session persistence used by the stitcher and
// the aggregators.
type Repository interface {
	Get(ctx context.Context, id string) (*RuntimeSession, error)
	Insert(ctx context.Context, session *RuntimeSession) error
	Update(ctx context.Context, session *RuntimeSession) error
	Delete(ctx context.Context, id string) error
	// ListClosedRange returns closed sessions with started_at in [from, to).
	ListClosedRange(ctx context.Context, deviceKey string, from, to time.Time) ([]*RuntimeSession, error)
	// ListClosedSince returns closed sessions ending after the given instant.
	ListClosedSince(ctx context.Context, deviceKey string, after time.Time) ([]*RuntimeSession, error)
}

// Clock provides time for domain services.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
