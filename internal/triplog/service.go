package triplog

import (
	"context"
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/db"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/shared/geo"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Append writes an entry and fills in its ID. RecordedAt defaults to now.
func (s *Service) Append(ctx context.Context, e *Entry) error {
	if e.TripID == "" || !e.StatusAtTime.Valid() {
		return fmt.Errorf("%w: trip_id and a valid status required", apperrors.ErrInvalidInput)
	}
	if !geo.ValidCoordinate(e.Lat, e.Lng) {
		return fmt.Errorf("%w: coordinate out of range", apperrors.ErrInvalidInput)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO trip_logs (trip_id, lat, lng, status_at_time, recorded_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, e.TripID, e.Lat, e.Lng, e.StatusAtTime, e.RecordedAt)
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("append trip log: %w", err)
	}
	return nil
}

// List returns a trip's entries oldest first.
func (s *Service) List(ctx context.Context, tripID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, lat, lng, status_at_time, recorded_at
		FROM trip_logs
		WHERE trip_id=$1
		ORDER BY recorded_at ASC, id ASC
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TripID, &e.Lat, &e.Lng, &e.StatusAtTime, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
