package trip

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusDanger    Status = "danger"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusDanger, StatusCompleted:
		return true
	}
	return false
}

// Tracking reports whether position samples are processed in this status.
func (s Status) Tracking() bool {
	return s == StatusActive || s == StatusPaused
}

// DefaultStaleAfter is how long a trip may go without an update before
// viewers treat its position as stale.
const DefaultStaleAfter = 120 * time.Second

type Trip struct {
	ID               string     `json:"id"`
	PCMID            string     `json:"pcm_id"`
	TrackingCode     string     `json:"tracking_code"`
	PlateNumber      string     `json:"plate_number"`
	Origin           string     `json:"origin"`
	DestinationState string     `json:"destination_state"`
	Institution      string     `json:"institution"`
	Status           Status     `json:"status"`
	PauseReason      *string    `json:"pause_reason"`
	SystemPaused     bool       `json:"system_paused"`
	CurrentLat       float64    `json:"current_lat"`
	CurrentLng       float64    `json:"current_lng"`
	CurrentSpeed     int        `json:"current_speed"`
	LastUpdated      *time.Time `json:"last_updated"`
	CreatedAt        time.Time  `json:"created_at"`
}

type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Patch is a partial trip update. Nil fields are left untouched.
// LastUpdated is always written and doubles as the ordering guard.
type Patch struct {
	Status      *Status
	PauseReason *string
	// SystemPaused is written together with a paused Status.
	SystemPaused bool
	Position     *Position
	Speed        *int
	LastUpdated  time.Time
}

type RegisterRequest struct {
	PlateNumber      string   `json:"plate_number" validate:"required"`
	Origin           string   `json:"origin" validate:"required"`
	DestinationState string   `json:"destination_state" validate:"required"`
	Institution      string   `json:"institution"`
	NextOfKin        string   `json:"next_of_kin"`
	NextOfKinEmail   string   `json:"next_of_kin_email" validate:"omitempty,email"`
	StartLat         *float64 `json:"start_lat" validate:"omitempty,latitude"`
	StartLng         *float64 `json:"start_lng" validate:"omitempty,longitude"`
}

// TrackingView is what the public tracking page shows for a code.
type TrackingView struct {
	Trip
	FullName  string `json:"full_name"`
	NextOfKin string `json:"next_of_kin"`
	Stale     bool   `json:"stale"`
}

type MonitoredTrip struct {
	Trip
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Stale    bool   `json:"stale"`
}

// Scope narrows the monitoring console to an admin's jurisdiction. A state
// admin sees trips leaving from or heading to their state, a school admin
// sees trips of their institution. An empty Jurisdiction sees everything.
type Scope struct {
	Role         string
	Jurisdiction string
}

type Overview struct {
	Trips  []MonitoredTrip `json:"trips"`
	Total  int             `json:"total"`
	Danger int             `json:"danger"`
	Paused int             `json:"paused"`
	Stale  int             `json:"stale"`
}

// Contact is what an emergency alert needs to know about a trip.
type Contact struct {
	TripID         string `json:"trip_id"`
	TrackingCode   string `json:"tracking_code"`
	PlateNumber    string `json:"plate_number"`
	FullName       string `json:"full_name"`
	NextOfKin      string `json:"next_of_kin"`
	NextOfKinEmail string `json:"next_of_kin_email"`
}

// IsStale reports whether a trip last updated at lastUpdated should be
// flagged as stale at now. A trip that was never updated is stale.
func IsStale(lastUpdated *time.Time, now time.Time, threshold time.Duration) bool {
	if lastUpdated == nil || lastUpdated.IsZero() {
		return true
	}
	return now.Sub(*lastUpdated) > threshold
}
