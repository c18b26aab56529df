package application

import (
	"testing"
	"time"

	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/filter"
	sessions "filterwatch/internal/sessions/domain"
)

func closedSession(status string, startedAt time.Time, duration time.Duration) *sessions.RuntimeSession {
	ended := startedAt.Add(duration)
	return &sessions.RuntimeSession{
		DeviceKey:       "d1",
		EquipmentStatus: status,
		StartedAt:       startedAt,
		EndedAt:         &ended,
		RuntimeSeconds:  int64(duration.Seconds()),
	}
}

func TestRecalcDevicePolicyFlip(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	closed := []*sessions.RuntimeSession{
		closedSession("heating", t0, time.Hour),
		closedSession("cooling", t0.Add(2*time.Hour), time.Hour),
	}

	// Credited while use_forced_air_for_heat was true: both hours count.
	device := &devices.Device{Key: "d1", FilterTargetHours: 10, UseForcedAirForHeat: false}
	state := &devices.State{DeviceKey: "d1", FilterHoursUsed: 2, HoursUsedTotal: 2}

	recalcDevice(filter.NewAccountant(), device, state, closed)

	// Under the flipped policy radiant heat no longer wears the filter.
	if state.FilterHoursUsed != 1 {
		t.Fatalf("expected 1 filter hour after replay, got %f", state.FilterHoursUsed)
	}
	if device.FilterUsagePercent != 10 {
		t.Fatalf("expected percent 10, got %d", device.FilterUsagePercent)
	}
	if state.HoursUsedTotal != 2 {
		t.Fatalf("expected lifetime total untouched, got %f", state.HoursUsedTotal)
	}

	// Flipping back restores both hours.
	device.UseForcedAirForHeat = true
	recalcDevice(filter.NewAccountant(), device, state, closed)
	if state.FilterHoursUsed != 2 {
		t.Fatalf("expected 2 filter hours after replay, got %f", state.FilterHoursUsed)
	}
	if device.FilterUsagePercent != 20 {
		t.Fatalf("expected percent 20, got %d", device.FilterUsagePercent)
	}
}

func TestRecalcDeviceSkipsOpenSessions(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	open := &sessions.RuntimeSession{DeviceKey: "d1", EquipmentStatus: "cooling", StartedAt: t0}

	device := &devices.Device{Key: "d1", FilterTargetHours: 10}
	state := &devices.State{DeviceKey: "d1", FilterHoursUsed: 5}

	recalcDevice(filter.NewAccountant(), device, state, []*sessions.RuntimeSession{
		open,
		closedSession("cooling", t0.Add(2*time.Hour), time.Hour),
	})
	if state.FilterHoursUsed != 1 {
		t.Fatalf("expected only the closed hour, got %f", state.FilterHoursUsed)
	}
}

func TestRecalcDeviceClipsAtReset(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	device := &devices.Device{Key: "d1", FilterTargetHours: 10, UseForcedAirForHeat: true}
	state := &devices.State{DeviceKey: "d1", LastResetTS: t0.Add(30 * time.Minute)}

	recalcDevice(filter.NewAccountant(), device, state, []*sessions.RuntimeSession{
		closedSession("heating", t0, time.Hour),
	})
	if state.FilterHoursUsed != 0.5 {
		t.Fatalf("expected the post-reset half hour, got %f", state.FilterHoursUsed)
	}
}
