package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "filterwatch/internal/devices/domain"
	sessions "filterwatch/internal/sessions/domain"
	"filterwatch/internal/storage"
)

const defaultSessionTable = "runtime_sessions"

// SessionRepository is a Postgres implementation of the session store.
type SessionRepository struct {
	db    storage.DBTX
	table string
}

// NewSessionRepository constructs a repository with the default table name.
func NewSessionRepository(db storage.DBTX, opts ...RepositoryOption) *SessionRepository {
	repo := &SessionRepository{db: db, table: defaultSessionTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SessionRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *SessionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const sessionColumns = `
	id,
	device_key,
	mode,
	equipment_status,
	started_at,
	ended_at,
	runtime_seconds,
	tick_count,
	last_tick_at,
	terminated_reason,
	created_at,
	updated_at`

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*sessions.RuntimeSession, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("session repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 LIMIT 1`, sessionColumns, r.table)
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Insert stores a new session row.
func (r *SessionRepository) Insert(ctx context.Context, session *sessions.RuntimeSession) error {
	if r == nil || r.db == nil {
		return errors.New("session repo: nil db")
	}
	if session == nil || session.ID == "" {
		return errors.New("session repo: invalid session")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_key,
	mode,
	equipment_status,
	started_at,
	ended_at,
	runtime_seconds,
	tick_count,
	last_tick_at,
	terminated_reason
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`, r.table)
	_, err := r.db.ExecContext(ctx, query, sessionArgs(session)...)
	return err
}

// Update overwrites a session row.
func (r *SessionRepository) Update(ctx context.Context, session *sessions.RuntimeSession) error {
	if r == nil || r.db == nil {
		return errors.New("session repo: nil db")
	}
	if session == nil || session.ID == "" {
		return errors.New("session repo: invalid session")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET
	mode = $3,
	equipment_status = $4,
	started_at = $5,
	ended_at = $6,
	runtime_seconds = $7,
	tick_count = $8,
	last_tick_at = $9,
	terminated_reason = $10,
	updated_at = NOW()
WHERE id = $1 AND device_key = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, sessionArgs(session)...)
	return err
}

// Delete removes a session row. Used when the sanity ceiling rejects a
// reconstructed interval.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("session repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListClosedRange returns closed sessions with started_at in [from, to).
func (r *SessionRepository) ListClosedRange(ctx context.Context, deviceKey string, from, to time.Time) ([]*sessions.RuntimeSession, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("session repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_key = $1
	AND ended_at IS NOT NULL
	AND started_at >= $2
	AND started_at < $3
ORDER BY started_at ASC`, sessionColumns, r.table)
	return r.list(ctx, query, deviceKey, from.UTC(), to.UTC())
}

// ListClosedSince returns closed sessions ending after the given instant.
func (r *SessionRepository) ListClosedSince(ctx context.Context, deviceKey string, after time.Time) ([]*sessions.RuntimeSession, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("session repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_key = $1
	AND ended_at IS NOT NULL
	AND ended_at > $2
ORDER BY started_at ASC`, sessionColumns, r.table)
	return r.list(ctx, query, deviceKey, after.UTC())
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]*sessions.RuntimeSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*sessions.RuntimeSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func sessionArgs(session *sessions.RuntimeSession) []any {
	endedAt := sql.NullTime{}
	if session.EndedAt != nil {
		endedAt = sql.NullTime{Time: session.EndedAt.UTC(), Valid: true}
	}
	reason := sql.NullString{}
	if session.TerminatedReason != "" {
		reason = sql.NullString{String: session.TerminatedReason, Valid: true}
	}
	return []any{
		session.ID,
		session.DeviceKey,
		string(session.Mode),
		session.EquipmentStatus,
		session.StartedAt.UTC(),
		endedAt,
		session.RuntimeSeconds,
		session.TickCount,
		session.LastTickAt.UTC(),
		reason,
	}
}

func deviceMode(raw string) devices.HVACMode {
	mode := devices.HVACMode(raw)
	if !mode.IsValid() {
		return devices.ModeUnknown
	}
	return mode
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*sessions.RuntimeSession, error) {
	var (
		session   sessions.RuntimeSession
		mode      string
		endedAt   sql.NullTime
		reason    sql.NullString
		createdAt sql.NullTime
		updatedAt sql.NullTime
	)
	if err := scanner.Scan(
		&session.ID,
		&session.DeviceKey,
		&mode,
		&session.EquipmentStatus,
		&session.StartedAt,
		&endedAt,
		&session.RuntimeSeconds,
		&session.TickCount,
		&session.LastTickAt,
		&reason,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	session.Mode = deviceMode(mode)
	session.StartedAt = session.StartedAt.UTC()
	session.LastTickAt = session.LastTickAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		session.EndedAt = &t
	}
	if reason.Valid {
		session.TerminatedReason = reason.String
	}
	if createdAt.Valid {
		session.CreatedAt = createdAt.Time.UTC()
	}
	if updatedAt.Valid {
		session.UpdatedAt = updatedAt.Time.UTC()
	}
	return &session, nil
}
