package scheduler

import (
	"context"
	"log"
	"time"

	"filterwatch/internal/observability/metrics"
	"filterwatch/internal/runlog"
)

// Job is a unit of scheduled work. Either Every or DailyAt drives it:
// Every reruns the job on a fixed cadence, DailyAt ("15:04", UTC) runs
// it once a day.
type Job struct {
	Name    string
	Every   time.Duration
	DailyAt string
	Run     func(ctx context.Context) error
}

// Scheduler drives the background workers off a minute ticker. Each
// completed pass is recorded in the run log and the worker metrics.
type Scheduler struct {
	jobs     []Job
	recorder runlog.Recorder
	logger   *log.Logger
	lastRun  map[string]time.Time
}

// New constructs a Scheduler. recorder may be nil.
func New(jobs []Job, recorder runlog.Recorder, logger *log.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		recorder: recorder,
		logger:   logger,
		lastRun:  make(map[string]time.Time),
	}
}

// Start begins the scheduler loop. It blocks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || len(s.jobs) == 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		if !s.due(job, now) {
			continue
		}
		s.lastRun[job.Name] = now
		s.RunJob(ctx, job)
	}
}

func (s *Scheduler) due(job Job, now time.Time) bool {
	if job.Run == nil {
		return false
	}
	if job.DailyAt != "" {
		hour, minute, err := parseDailyAt(job.DailyAt)
		if err != nil {
			return false
		}
		return now.Hour() == hour && now.Minute() == minute
	}
	if job.Every <= 0 {
		return false
	}
	last, ok := s.lastRun[job.Name]
	if !ok {
		return true
	}
	return now.Sub(last) >= job.Every
}

// RunJob executes one job pass and records the outcome.
func (s *Scheduler) RunJob(ctx context.Context, job Job) {
	startedAt := time.Now().UTC()
	err := job.Run(ctx)
	endedAt := time.Now().UTC()

	result := metrics.ResultSuccess
	errText := ""
	if err != nil {
		result = metrics.ResultError
		errText = err.Error()
		if s.logger != nil {
			s.logger.Printf("worker_run_failed worker=%s err=%v", job.Name, err)
		}
	}
	metrics.ObserveWorkerRun(job.Name, result, endedAt.Sub(startedAt))

	if s.recorder == nil {
		return
	}
	entry := runlog.Entry{
		Worker:    job.Name,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Success:   err == nil,
		Error:     errText,
	}
	if recordErr := s.recorder.Record(ctx, entry); recordErr != nil && s.logger != nil {
		s.logger.Printf("worker_run_record_failed worker=%s err=%v", job.Name, recordErr)
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
