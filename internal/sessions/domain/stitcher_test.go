package sessions_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/filter"
	sessions "filterwatch/internal/sessions/domain"
	"filterwatch/internal/sessions/infrastructure/memory"
	telemetry "filterwatch/internal/telemetry/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func newStitcher(t *testing.T, repo sessions.Repository, clock sessions.Clock) *sessions.Stitcher {
	t.Helper()
	logger := log.New(os.Stderr, "", 0)
	stitcher, err := sessions.NewStitcher(repo, filter.NewAccountant(), clock, sessions.DefaultTail, sessions.DefaultMaxSession, logger)
	if err != nil {
		t.Fatalf("new stitcher: %v", err)
	}
	return stitcher
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }

func event(deviceKey, status string, at time.Time) telemetry.EquipmentEvent {
	return telemetry.EquipmentEvent{DeviceKey: deviceKey, EquipmentStatus: status, RecordedAt: at}
}

func TestStitcherTailClose(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300, UseForcedAirForHeat: true}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(1 * time.Minute)
	t2 := t0.Add(2 * time.Minute)
	t3 := t0.Add(3 * time.Minute)
	events := []telemetry.EquipmentEvent{
		event("d1", "idle", t0),
		event("d1", "heat", t1),
		event("d1", "heat", t2),
		event("d1", "idle", t3),
	}

	// First pass runs before the tail has elapsed: nothing closes.
	clock.Set(t3.Add(30 * time.Second))
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}
	if state.OpenSessionID == "" {
		t.Fatal("expected session still open inside the tail window")
	}
	if state.IsActive {
		t.Fatal("expected device inactive after off event")
	}

	// Second pass after the tail: the session closes at last_event + tail.
	clock.Set(t3.Add(181 * time.Second))
	if err := stitcher.ProcessDevice(context.Background(), device, state, nil); err != nil {
		t.Fatalf("process sweep: %v", err)
	}
	if state.OpenSessionID != "" {
		t.Fatal("expected open session pointer cleared")
	}

	all := repo.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(all))
	}
	got := all[0]
	if got.IsOpen() {
		t.Fatal("expected session closed")
	}
	if !got.StartedAt.Equal(t1) {
		t.Fatalf("expected started_at %v, got %v", t1, got.StartedAt)
	}
	wantEnd := t3.Add(180 * time.Second)
	if !got.EndedAt.Equal(wantEnd) {
		t.Fatalf("expected ended_at %v, got %v", wantEnd, got.EndedAt)
	}
	if got.Mode != devices.ModeHeat {
		t.Fatalf("expected heat mode, got %s", got.Mode)
	}
	if got.TerminatedReason != sessions.TerminatedTailClose {
		t.Fatalf("expected tail_close, got %s", got.TerminatedReason)
	}
	if got.RuntimeSeconds != int64(wantEnd.Sub(t1).Seconds()) {
		t.Fatalf("expected runtime %d, got %d", int64(wantEnd.Sub(t1).Seconds()), got.RuntimeSeconds)
	}
	if got.TickCount != 2 {
		t.Fatalf("expected 2 corroborating ticks, got %d", got.TickCount)
	}
}

func TestStitcherSanityCeilingRejectsPollingGap(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []telemetry.EquipmentEvent{
		event("d1", "cooling", t0),
		event("d1", "idle", t0.Add(3 * time.Hour)),
	}

	clock.Set(t0.Add(4 * time.Hour))
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(repo.All()) != 0 {
		t.Fatalf("expected no surviving session, got %d", len(repo.All()))
	}
	if state.OpenSessionID != "" {
		t.Fatal("expected open session pointer cleared")
	}
	if state.HoursUsedTotal != 0 || state.FilterHoursUsed != 0 {
		t.Fatalf("expected zero credit, got total=%f filter=%f", state.HoursUsedTotal, state.FilterHoursUsed)
	}
}

func TestStitcherPostedRuntime(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(at)
	events := []telemetry.EquipmentEvent{{
		DeviceKey:       "d1",
		EquipmentStatus: "idle",
		PreviousStatus:  strPtr("Cooling"),
		RuntimeSeconds:  int64Ptr(600),
		RecordedAt:      at,
	}}

	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}

	all := repo.All()
	if len(all) != 1 {
		t.Fatalf("expected one session, got %d", len(all))
	}
	got := all[0]
	if !got.StartedAt.Equal(at.Add(-600 * time.Second)) {
		t.Fatalf("expected started_at T-600s, got %v", got.StartedAt)
	}
	if !got.EndedAt.Equal(at) {
		t.Fatalf("expected ended_at %v, got %v", at, got.EndedAt)
	}
	if got.Mode != devices.ModeCool {
		t.Fatalf("expected cool mode, got %s", got.Mode)
	}
	if got.TerminatedReason != sessions.TerminatedPostedRuntime {
		t.Fatalf("expected posted_runtime, got %s", got.TerminatedReason)
	}

	wantHours := 600.0 / 3600.0
	if diff := state.HoursUsedTotal - wantHours; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %.6f total hours, got %.6f", wantHours, state.HoursUsedTotal)
	}
	if diff := state.FilterHoursUsed - wantHours; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %.6f filter hours, got %.6f", wantHours, state.FilterHoursUsed)
	}
	if !state.LastEventTS.Equal(at) {
		t.Fatalf("expected cursor advanced to %v, got %v", at, state.LastEventTS)
	}
}

func TestStitcherPostedRuntimeWithoutStatusSkips(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	at := clock.Now()
	events := []telemetry.EquipmentEvent{{
		DeviceKey:      "d1",
		RuntimeSeconds: int64Ptr(600),
		RecordedAt:     at,
	}}

	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(repo.All()) != 0 {
		t.Fatal("expected no session for statusless event")
	}
	if !state.LastEventTS.Equal(at) {
		t.Fatal("expected cursor advanced past skipped event")
	}
}

func TestStitcherActiveFlagOverridesStatusToken(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.Set(t0.Add(time.Minute))

	// Status says cooling, flag says inactive: the flag wins.
	events := []telemetry.EquipmentEvent{{
		DeviceKey:       "d1",
		EquipmentStatus: "cooling",
		IsActive:        boolPtr(false),
		RecordedAt:      t0,
	}}
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}
	if state.OpenSessionID != "" || state.IsActive {
		t.Fatal("expected no session when is_active=false overrides status")
	}

	// Status says idle, flag says active: the flag wins again.
	events = []telemetry.EquipmentEvent{{
		DeviceKey:       "d1",
		EquipmentStatus: "idle",
		IsActive:        boolPtr(true),
		RecordedAt:      t0.Add(30 * time.Second),
	}}
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}
	if state.OpenSessionID == "" || !state.IsActive {
		t.Fatal("expected open session when is_active=true overrides status")
	}
}

func TestStitcherSingleOpenSession(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.Set(t0.Add(10 * time.Minute))
	events := []telemetry.EquipmentEvent{
		event("d1", "cooling", t0),
		event("d1", "cooling", t0.Add(time.Minute)),
		event("d1", "running", t0.Add(2*time.Minute)),
		event("d1", "cooling", t0.Add(3*time.Minute)),
	}
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}

	open := 0
	for _, session := range repo.All() {
		if session.IsOpen() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open session, got %d", open)
	}
	if got := repo.All()[0].TickCount; got != 4 {
		t.Fatalf("expected 4 ticks, got %d", got)
	}
}

func TestStitcherOffBlipInsideTailResumesSession(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.Set(t0.Add(5 * time.Minute))
	events := []telemetry.EquipmentEvent{
		event("d1", "cooling", t0),
		event("d1", "idle", t0.Add(time.Minute)),
		event("d1", "cooling", t0.Add(2*time.Minute)),
	}
	if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
		t.Fatalf("process: %v", err)
	}

	all := repo.All()
	if len(all) != 1 {
		t.Fatalf("expected the blip to resume one session, got %d sessions", len(all))
	}
	if !all[0].IsOpen() {
		t.Fatal("expected session still open")
	}
	if !state.IsActive {
		t.Fatal("expected device active again")
	}
}

func TestStitcherClosedSessionsDoNotOverlap(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	device := &devices.Device{Key: "d1", FilterTargetHours: 300}
	state := &devices.State{DeviceKey: "d1"}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Two on/off cycles far enough apart that each tail-closes.
	for cycle := 0; cycle < 2; cycle++ {
		on := t0.Add(time.Duration(cycle) * time.Hour)
		off := on.Add(10 * time.Minute)
		clock.Set(off.Add(4 * time.Minute))
		events := []telemetry.EquipmentEvent{
			event("d1", "heating", on),
			event("d1", "idle", off),
		}
		if err := stitcher.ProcessDevice(context.Background(), device, state, events); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}

	all := repo.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 closed sessions, got %d", len(all))
	}
	for i := 0; i < len(all); i++ {
		if all[i].IsOpen() {
			t.Fatalf("session %d still open", i)
		}
		for j := i + 1; j < len(all); j++ {
			if all[i].EndedAt.After(all[j].StartedAt) && all[j].EndedAt.After(all[i].StartedAt) {
				t.Fatalf("sessions %d and %d overlap", i, j)
			}
		}
	}
}

func TestStitcherRefreshesUsagePercentWithoutEvents(t *testing.T) {
	repo := memory.NewSessionRepository()
	clock := &fakeClock{}
	stitcher := newStitcher(t, repo, clock)

	// Counters moved out-of-band (a replay or a manual adjustment); the
	// cached percent is stale and no new events have arrived.
	device := &devices.Device{Key: "d1", FilterTargetHours: 300, FilterUsagePercent: 0}
	state := &devices.State{DeviceKey: "d1", FilterHoursUsed: 150}

	clock.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if err := stitcher.ProcessDevice(context.Background(), device, state, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	if device.FilterUsagePercent != 50 {
		t.Fatalf("expected percent refreshed to 50, got %d", device.FilterUsagePercent)
	}

	// A raised target lowers the percent on the next pass without any
	// accounting activity.
	device.FilterTargetHours = 600
	if err := stitcher.ProcessDevice(context.Background(), device, state, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	if device.FilterUsagePercent != 25 {
		t.Fatalf("expected percent refreshed to 25, got %d", device.FilterUsagePercent)
	}
}
