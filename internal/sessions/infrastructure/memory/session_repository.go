package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	sessions "filterwatch/internal/sessions/domain"
)

// SessionRepository is an in-memory repository for tests.
type SessionRepository struct {
	mu   sync.RWMutex
	data map[string]*sessions.RuntimeSession
}

// NewSessionRepository constructs a repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{data: make(map[string]*sessions.RuntimeSession)}
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*sessions.RuntimeSession, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.data[id]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

// Insert stores a new session.
func (r *SessionRepository) Insert(ctx context.Context, session *sessions.RuntimeSession) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	r.data[session.ID] = &clone
	return nil
}

// Update overwrites a stored session.
func (r *SessionRepository) Update(ctx context.Context, session *sessions.RuntimeSession) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[session.ID]; !ok {
		return sessions.ErrSessionNotFound
	}
	clone := *session
	r.data[session.ID] = &clone
	return nil
}

// Delete removes a session row.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// ListClosedRange returns closed sessions with started_at in [from, to).
func (r *SessionRepository) ListClosedRange(ctx context.Context, deviceKey string, from, to time.Time) ([]*sessions.RuntimeSession, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*sessions.RuntimeSession
	for _, session := range r.data {
		if session.DeviceKey != deviceKey || session.IsOpen() {
			continue
		}
		if session.StartedAt.Before(from) || !session.StartedAt.Before(to) {
			continue
		}
		clone := *session
		result = append(result, &clone)
	}
	sortSessions(result)
	return result, nil
}

// ListClosedSince returns closed sessions ending after the given instant.
func (r *SessionRepository) ListClosedSince(ctx context.Context, deviceKey string, after time.Time) ([]*sessions.RuntimeSession, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*sessions.RuntimeSession
	for _, session := range r.data {
		if session.DeviceKey != deviceKey || session.IsOpen() {
			continue
		}
		if !session.EndedAt.After(after) {
			continue
		}
		clone := *session
		result = append(result, &clone)
	}
	sortSessions(result)
	return result, nil
}

// All returns every stored session, oldest first. Test helper.
func (r *SessionRepository) All() []*sessions.RuntimeSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*sessions.RuntimeSession
	for _, session := range r.data {
		clone := *session
		result = append(result, &clone)
	}
	sortSessions(result)
	return result
}

func sortSessions(list []*sessions.RuntimeSession) {
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
}
