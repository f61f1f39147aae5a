package tracking

import (
	"context"
	"time"

	"github.com/lexzee/corpersafe/internal/trip"
	"github.com/lexzee/corpersafe/internal/triplog"
)

// TripStore is the persisted trip record.
type TripStore interface {
	GetTrip(ctx context.Context, id string) (trip.Trip, error)
	UpdateTrip(ctx context.Context, id string, patch trip.Patch) error
	EmergencyContact(ctx context.Context, tripID string) (trip.Contact, error)
}

// LogStore is the append-only route history.
type LogStore interface {
	Append(ctx context.Context, e *triplog.Entry) error
}

// Alerter notifies a trip owner's emergency contact.
type Alerter interface {
	Notify(ctx context.Context, c trip.Contact) error
}

// Broadcaster publishes events on a trip's change feed.
type Broadcaster interface {
	Publish(tripID string, event any) error
}

// PositionSource delivers device fixes for a trip.
type PositionSource interface {
	Subscribe(tripID string, opts WatchOptions) (*Subscription, error)
	// Locate waits for a single fix.
	Locate(ctx context.Context, tripID string, timeout time.Duration) (Sample, error)
}
