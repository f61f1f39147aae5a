package triplog

import (
	"time"

	"github.com/lexzee/corpersafe/internal/trip"
)

// Entry is one breadcrumb of a trip's path.
type Entry struct {
	ID           int64       `json:"id"`
	TripID       string      `json:"trip_id"`
	Lat          float64     `json:"lat"`
	Lng          float64     `json:"lng"`
	StatusAtTime trip.Status `json:"status_at_time"`
	RecordedAt   time.Time   `json:"recorded_at"`
}
