package runlog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes run entries to Postgres. It holds the raw DB, not
// a worker transaction, so a failed run still leaves its entry behind.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a run log repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Record writes a run entry.
func (r *Repository) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("runlog repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.EndedAt.IsZero() {
		entry.EndedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO worker_runs (
	id, worker, started_at, ended_at, success, error
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, entry.ID, entry.Worker, entry.StartedAt.UTC(), entry.EndedAt.UTC(), entry.Success, entry.Error)
	return err
}
