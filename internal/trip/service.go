package trip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/lexzee/corpersafe/internal/auth"
	"github.com/lexzee/corpersafe/internal/db"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	trackingCodePrefix = "NYSC-"

	// Used when registration carries no start coordinates.
	defaultStartLat = 9.082
	defaultStartLng = 8.6753
)

const tripColumns = `id, pcm_id, tracking_code, plate_number, origin, destination_state, COALESCE(institution,''),
		status, pause_reason, COALESCE(system_paused,false), COALESCE(current_lat,0), COALESCE(current_lng,0), COALESCE(current_speed,0), last_updated, created_at`

var (
	validate       = validator.New()
	trackingCodeFn = func() string { return fmt.Sprintf("%s%d", trackingCodePrefix, 10000+rand.Intn(90000)) }
)

type Service struct {
	db         db.Querier
	staleAfter time.Duration
	now        func() time.Time
}

func NewService(db db.Querier, staleAfter time.Duration) *Service {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Service{db: db, staleAfter: staleAfter, now: time.Now}
}

// Register records the traveller's emergency contact and creates a pending
// trip with a fresh tracking code.
func (s *Service) Register(ctx context.Context, userID string, req RegisterRequest) (Trip, error) {
	if err := validate.Struct(req); err != nil {
		return Trip{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	if req.NextOfKin != "" || req.NextOfKinEmail != "" {
		_, err := s.db.Exec(ctx, `
			UPDATE users
			SET next_of_kin = COALESCE(NULLIF($2,''), next_of_kin),
			    next_of_kin_email = COALESCE(NULLIF($3,''), next_of_kin_email),
			    updated_at = now()
			WHERE id=$1
		`, userID, req.NextOfKin, req.NextOfKinEmail)
		if err != nil {
			return Trip{}, fmt.Errorf("update emergency contact: %w", err)
		}
	}

	t := Trip{
		ID:               uuid.NewString(),
		PCMID:            userID,
		TrackingCode:     trackingCodeFn(),
		PlateNumber:      strings.ToUpper(strings.TrimSpace(req.PlateNumber)),
		Origin:           req.Origin,
		DestinationState: req.DestinationState,
		Institution:      req.Institution,
		Status:           StatusPending,
		CurrentLat:       defaultStartLat,
		CurrentLng:       defaultStartLng,
	}
	if req.StartLat != nil && req.StartLng != nil {
		t.CurrentLat = *req.StartLat
		t.CurrentLng = *req.StartLng
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO trips (id, pcm_id, tracking_code, plate_number, origin, destination_state, institution, status, current_lat, current_lng)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, t.ID, t.PCMID, t.TrackingCode, t.PlateNumber, t.Origin, t.DestinationState, t.Institution, t.Status, t.CurrentLat, t.CurrentLng)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return Trip{}, err
	}
	return t, nil
}

func (s *Service) GetTrip(ctx context.Context, id string) (Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	t, err := scanTrip(row)
	if err != nil {
		return Trip{}, notFound(err, "trip "+id)
	}
	return t, nil
}

// ActiveTripForUser returns the traveller's newest trip that has not been
// completed.
func (s *Service) ActiveTripForUser(ctx context.Context, userID string) (Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE pcm_id=$1 AND status <> 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	t, err := scanTrip(row)
	if err != nil {
		return Trip{}, notFound(err, "active trip for "+userID)
	}
	return t, nil
}

// History returns the traveller's completed trips, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE pcm_id=$1 AND status = 'completed'
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := []Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func (s *Service) TrackByCode(ctx context.Context, code string) (TrackingView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	row := s.db.QueryRow(ctx, `
		SELECT t.id, t.pcm_id, t.tracking_code, t.plate_number, t.origin, t.destination_state, COALESCE(t.institution,''),
		       t.status, t.pause_reason, COALESCE(t.system_paused,false), COALESCE(t.current_lat,0), COALESCE(t.current_lng,0), COALESCE(t.current_speed,0),
		       t.last_updated, t.created_at, COALESCE(u.full_name,''), COALESCE(u.next_of_kin,'')
		FROM trips t
		LEFT JOIN users u ON u.id = t.pcm_id
		WHERE t.tracking_code=$1
	`, code)

	var v TrackingView
	err := row.Scan(&v.ID, &v.PCMID, &v.TrackingCode, &v.PlateNumber, &v.Origin, &v.DestinationState, &v.Institution,
		&v.Status, &v.PauseReason, &v.SystemPaused, &v.CurrentLat, &v.CurrentLng, &v.CurrentSpeed, &v.LastUpdated, &v.CreatedAt,
		&v.FullName, &v.NextOfKin)
	if err != nil {
		return TrackingView{}, notFound(err, "tracking code "+code)
	}
	v.Stale = IsStale(v.LastUpdated, s.now(), s.staleAfter)
	return v, nil
}

// UpdateTrip applies a partial update. Any status other than paused clears
// pause_reason and system_paused in the same statement; a reason without a status is only
// written while the stored trip is paused. The write is refused with
// ErrStaleWrite when the stored last_updated is newer than patch.LastUpdated.
func (s *Service) UpdateTrip(ctx context.Context, id string, patch Patch) error {
	if patch.LastUpdated.IsZero() {
		patch.LastUpdated = s.now()
	}

	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	reasonOnly := false
	switch {
	case patch.Status != nil && *patch.Status == StatusPaused:
		add("status", *patch.Status)
		add("pause_reason", patch.PauseReason)
		add("system_paused", patch.SystemPaused)
	case patch.Status != nil:
		add("status", *patch.Status)
		sets = append(sets, "pause_reason=NULL", "system_paused=FALSE")
	case patch.PauseReason != nil:
		add("pause_reason", *patch.PauseReason)
		reasonOnly = true
	}
	if patch.Position != nil {
		add("current_lat", patch.Position.Lat)
		add("current_lng", patch.Position.Lng)
	}
	if patch.Speed != nil {
		add("current_speed", *patch.Speed)
	}
	add("last_updated", patch.LastUpdated)
	guard := len(args)

	sql := fmt.Sprintf(`UPDATE trips SET %s WHERE id=$1 AND (last_updated IS NULL OR last_updated <= $%d)`,
		strings.Join(sets, ", "), guard)
	if reasonOnly {
		sql += ` AND status = 'paused'`
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update trip %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update trip %s: %w", id, apperrors.ErrStaleWrite)
	}
	return nil
}

// Monitor lists the open trips visible to scope for the admin console.
func (s *Service) Monitor(ctx context.Context, scope Scope) (Overview, error) {
	where := `t.status <> 'completed'`
	args := []any{}
	if scope.Jurisdiction != "" {
		switch scope.Role {
		case auth.RoleStateAdmin:
			where += ` AND (t.origin = $1 OR t.destination_state = $1)`
			args = append(args, scope.Jurisdiction)
		case auth.RoleSchoolAdmin:
			where += ` AND t.institution = $1`
			args = append(args, scope.Jurisdiction)
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.pcm_id, t.tracking_code, t.plate_number, t.origin, t.destination_state, COALESCE(t.institution,''),
		       t.status, t.pause_reason, COALESCE(t.system_paused,false), COALESCE(t.current_lat,0), COALESCE(t.current_lng,0), COALESCE(t.current_speed,0),
		       t.last_updated, t.created_at, COALESCE(u.full_name,''), COALESCE(u.phone,'')
		FROM trips t
		LEFT JOIN users u ON u.id = t.pcm_id
		WHERE `+where+`
		ORDER BY t.last_updated DESC NULLS LAST
	`, args...)
	if err != nil {
		return Overview{}, err
	}
	defer rows.Close()

	now := s.now()
	overview := Overview{Trips: []MonitoredTrip{}}
	for rows.Next() {
		var m MonitoredTrip
		if err := rows.Scan(&m.ID, &m.PCMID, &m.TrackingCode, &m.PlateNumber, &m.Origin, &m.DestinationState, &m.Institution,
			&m.Status, &m.PauseReason, &m.SystemPaused, &m.CurrentLat, &m.CurrentLng, &m.CurrentSpeed, &m.LastUpdated, &m.CreatedAt,
			&m.FullName, &m.Phone); err != nil {
			return Overview{}, err
		}
		m.Stale = m.Status.Tracking() && IsStale(m.LastUpdated, now, s.staleAfter)

		overview.Total++
		switch m.Status {
		case StatusDanger:
			overview.Danger++
		case StatusPaused:
			overview.Paused++
		}
		if m.Stale {
			overview.Stale++
		}
		overview.Trips = append(overview.Trips, m)
	}
	return overview, rows.Err()
}

func (s *Service) EmergencyContact(ctx context.Context, tripID string) (Contact, error) {
	row := s.db.QueryRow(ctx, `
		SELECT t.id, t.tracking_code, t.plate_number, COALESCE(u.full_name,''), COALESCE(u.next_of_kin,''), COALESCE(u.next_of_kin_email,'')
		FROM trips t
		JOIN users u ON u.id = t.pcm_id
		WHERE t.id=$1
	`, tripID)

	var c Contact
	if err := row.Scan(&c.TripID, &c.TrackingCode, &c.PlateNumber, &c.FullName, &c.NextOfKin, &c.NextOfKinEmail); err != nil {
		return Contact{}, notFound(err, "contact for trip "+tripID)
	}
	return c, nil
}

func scanTrip(row pgx.Row) (Trip, error) {
	var t Trip
	err := row.Scan(&t.ID, &t.PCMID, &t.TrackingCode, &t.PlateNumber, &t.Origin, &t.DestinationState, &t.Institution,
		&t.Status, &t.PauseReason, &t.SystemPaused, &t.CurrentLat, &t.CurrentLng, &t.CurrentSpeed, &t.LastUpdated, &t.CreatedAt)
	return t, err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return err
}
