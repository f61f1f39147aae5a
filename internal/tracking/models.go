package tracking

import (
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/trip"
)

// Sample is one fix reported by the traveller's device.
type Sample struct {
	Lat      float64
	Lng      float64
	Accuracy float64
	// SpeedMps is the device-reported ground speed, when the device has one.
	SpeedMps   *float64
	RecordedAt time.Time
}

// WatchOptions are handed to the device when a session opens.
type WatchOptions struct {
	HighAccuracy   bool  `json:"high_accuracy"`
	TimeoutMs      int64 `json:"timeout_ms"`
	MaxSampleAgeMs int64 `json:"max_sample_age_ms"`
}

type LocationErrorKind string

const (
	LocationDenied      LocationErrorKind = "denied"
	LocationUnavailable LocationErrorKind = "unavailable"
	LocationTimeout     LocationErrorKind = "timeout"
)

func (k LocationErrorKind) Valid() bool {
	switch k {
	case LocationDenied, LocationUnavailable, LocationTimeout:
		return true
	}
	return false
}

// LocationError is a failure reported by the device's location source.
type LocationError struct {
	Kind    LocationErrorKind
	Message string
}

func (e *LocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("location %s", e.Kind)
	}
	return fmt.Sprintf("location %s: %s", e.Kind, e.Message)
}

func (e *LocationError) Unwrap() error {
	switch e.Kind {
	case LocationDenied:
		return apperrors.ErrLocationDenied
	case LocationTimeout:
		return apperrors.ErrLocationTimeout
	}
	return nil
}

// Snapshot is the session's view of its trip.
type Snapshot struct {
	TripID       string         `json:"trip_id"`
	Status       trip.Status    `json:"status"`
	PauseReason  *string        `json:"pause_reason"`
	SystemPaused bool           `json:"system_paused"`
	SpeedKmh     int            `json:"speed_kmh"`
	Position     *trip.Position `json:"position"`
	LastSampleAt *time.Time     `json:"last_sample_at"`
	Stale        bool           `json:"stale"`
}

// PanicResult reports a panic trigger. The trip stays in danger whatever
// happened to the alert.
type PanicResult struct {
	Snapshot   Snapshot
	PersistErr error
	AlertErr   error
}

const (
	EventTripChanged   = "trip_changed"
	EventSignalStale   = "signal_stale"
	EventLocationError = "location_error"
)

// Event is published on the trip's change feed.
type Event struct {
	Type        string         `json:"type"`
	TripID      string         `json:"trip_id"`
	Status      trip.Status    `json:"status"`
	PauseReason *string        `json:"pause_reason,omitempty"`
	Position    *trip.Position `json:"position,omitempty"`
	SpeedKmh    int            `json:"speed_kmh"`
	Detail      string         `json:"detail,omitempty"`
	At          time.Time      `json:"at"`
}
