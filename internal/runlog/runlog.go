package runlog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Entry records one worker pass, successful or not.
type Entry struct {
	ID        string
	Worker    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string
}

// Recorder writes run entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NewID generates a random run id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "run-" + hex.EncodeToString(buf)
}
