package telemetry

import (
	"errors"
	"time"
)

// ErrInvalidEvent indicates an event missing its required fields.
var ErrInvalidEvent = errors.New("telemetry: invalid event")

// EquipmentEvent is one normalized, immutable telemetry record pushed by
// the ingestion boundary. Optional vendor fields are typed pointers; the
// ingestion layer guarantees range-checked values.
type EquipmentEvent struct {
	ID              int64
	DeviceKey       string
	EquipmentStatus string
	PreviousStatus  *string
	IsActive        *bool
	// RuntimeSeconds, when present and positive, is a vendor-pushed
	// discrete runtime for the interval ending at RecordedAt.
	RuntimeSeconds *int64
	ThermostatMode *string
	Temperature    *float64
	Humidity       *float64
	RecordedAt     time.Time
}

// HasPostedRuntime reports whether the event carries an authoritative
// closed interval.
func (e EquipmentEvent) HasPostedRuntime() bool {
	return e.RuntimeSeconds != nil && *e.RuntimeSeconds > 0
}

// EffectiveStatus is the status the posted-runtime interval ran under:
// the previous status when the vendor reported one, else the current.
func (e EquipmentEvent) EffectiveStatus() string {
	if e.PreviousStatus != nil && *e.PreviousStatus != "" {
		return *e.PreviousStatus
	}
	return e.EquipmentStatus
}

// Validate checks the required fields.
func (e EquipmentEvent) Validate() error {
	if e.DeviceKey == "" || e.RecordedAt.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

// Sensor sanity bounds. Readings outside these are skipped before
// averaging, never fatal.
const (
	MinPlausibleTemperature = 0.0
	MaxPlausibleTemperature = 150.0
	MaxPlausibleHumidity    = 100.0
)

// PlausibleTemperature reports whether a reading may enter an average.
func PlausibleTemperature(v float64) bool {
	return v > MinPlausibleTemperature && v < MaxPlausibleTemperature
}

// PlausibleHumidity reports whether a reading may enter an average.
func PlausibleHumidity(v float64) bool {
	return v > 0 && v <= MaxPlausibleHumidity
}
