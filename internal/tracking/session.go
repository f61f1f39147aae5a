package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/shared/geo"
	"github.com/lexzee/corpersafe/internal/trip"
	"github.com/lexzee/corpersafe/internal/triplog"

	"github.com/sirupsen/logrus"
)

// writeTimeout bounds each store call made from the session loop.
const writeTimeout = 10 * time.Second

type Config struct {
	Thresholds       Thresholds
	LogInterval      time.Duration
	WatchdogInterval time.Duration
	StaleAfter       time.Duration
	LocateTimeout    time.Duration
	Watch            WatchOptions
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       DefaultThresholds(),
		LogInterval:      time.Minute,
		WatchdogInterval: 2 * time.Minute,
		StaleAfter:       trip.DefaultStaleAfter,
		LocateTimeout:    15 * time.Second,
		Watch:            WatchOptions{HighAccuracy: true, TimeoutMs: 15000, MaxSampleAgeMs: 30000},
	}
}

// Deps are the collaborators a session talks to. Alerts and Feed may be nil.
type Deps struct {
	Trips  TripStore
	Logs   LogStore
	Alerts Alerter
	Feed   Broadcaster
	Source PositionSource
	Log    logrus.FieldLogger
	Clock  func() time.Time
}

type call struct {
	fn   func()
	done chan struct{}
}

// Session owns the tracking state of one trip. Fixes, location errors,
// watchdog ticks and manual actions are all handled on a single goroutine,
// one at a time. Manual actions queued at the same moment as a fix run first.
type Session struct {
	tripID  string
	ownerID string
	cfg     Config
	deps    Deps
	log     logrus.FieldLogger

	estimator *SpeedEstimator
	machine   *Machine
	throttle  *LogThrottle
	sub       *Subscription

	position     *trip.Position
	speedKmh     int
	openedAt     time.Time
	lastSampleAt time.Time
	lastWrite    time.Time
	stale        bool

	calls  chan call
	done   chan struct{}
	exited chan struct{}
	stopFn func()
	onStop func()
}

func newSession(t trip.Trip, cfg Config, deps Deps, sub *Subscription) *Session {
	s := &Session{
		tripID:    t.ID,
		ownerID:   t.PCMID,
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log.WithField("trip_id", t.ID),
		estimator: &SpeedEstimator{},
		machine:   NewMachine(State{Status: t.Status, PauseReason: t.PauseReason, SystemPaused: t.SystemPaused}, cfg.Thresholds),
		throttle:  NewLogThrottle(cfg.LogInterval),
		sub:       sub,
		speedKmh:  t.CurrentSpeed,
		openedAt:  deps.Clock(),
		calls:     make(chan call),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	if t.CurrentLat != 0 || t.CurrentLng != 0 {
		s.position = &trip.Position{Lat: t.CurrentLat, Lng: t.CurrentLng}
	}
	if t.LastUpdated != nil {
		s.lastWrite = *t.LastUpdated
	}

	stopped := false
	s.stopFn = func() {
		if stopped {
			return
		}
		stopped = true
		close(s.done)
		s.sub.Unsubscribe()
		if s.onStop != nil {
			s.onStop()
		}
	}
	return s
}

func (s *Session) TripID() string  { return s.tripID }
func (s *Session) OwnerID() string { return s.ownerID }

// Done is closed once the session has been stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop cancels the subscription and the watchdog. A store write already in
// progress finishes on its own; Stop does not wait for it.
func (s *Session) Stop() {
	select {
	case <-s.exited:
		return
	default:
	}
	// Routed through the loop so stopFn is only ever called from one goroutine.
	if err := s.do(context.Background(), s.stopFn); err != nil {
		s.sub.Unsubscribe()
	}
}

func (s *Session) run() {
	defer close(s.exited)

	watchdog := time.NewTicker(s.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case c := <-s.calls:
			s.exec(c)
			continue
		default:
		}

		select {
		case <-s.done:
			return
		case c := <-s.calls:
			s.exec(c)
		case smp := <-s.sub.Samples():
			s.handleSample(smp)
		case lerr := <-s.sub.Errors():
			s.handleLocationError(lerr)
		case <-watchdog.C:
			s.checkSignal()
		}
	}
}

func (s *Session) exec(c call) {
	c.fn()
	close(c.done)
	if s.machine.State().Status == trip.StatusCompleted {
		s.stopFn()
	}
}

// do runs fn on the session loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-s.done:
		return apperrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() { snap = s.snapshot() })
	return snap, err
}

// StartTrip moves a pending trip to active. Without a fix in hand it asks
// the position source for one; if none arrives the trip stays pending and
// the error is returned.
func (s *Session) StartTrip(ctx context.Context, fix *Sample) (Snapshot, error) {
	var snap Snapshot
	var startErr error
	err := s.do(ctx, func() {
		if s.machine.State().Status != trip.StatusPending {
			snap = s.snapshot()
			return
		}

		var sample Sample
		if fix != nil {
			sample = *fix
		} else {
			located, err := s.deps.Source.Locate(ctx, s.tripID, s.cfg.LocateTimeout)
			if err != nil {
				startErr = fmt.Errorf("start trip: %w", err)
				snap = s.snapshot()
				return
			}
			sample = located
		}
		if !geo.ValidCoordinate(sample.Lat, sample.Lng) {
			startErr = fmt.Errorf("%w: initial fix out of range", apperrors.ErrInvalidInput)
			snap = s.snapshot()
			return
		}
		if sample.RecordedAt.IsZero() {
			sample.RecordedAt = s.deps.Clock()
		}

		s.estimator.Reset()
		s.estimator.Estimate(sample)
		s.position = &trip.Position{Lat: sample.Lat, Lng: sample.Lng}
		s.speedKmh = 0
		s.lastSampleAt = s.deps.Clock()
		s.stale = false

		state, _ := s.machine.Start()
		s.commit(state, true, true, sample.RecordedAt)
		snap = s.snapshot()
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, startErr
}

// TogglePause pauses an active trip with reason, or resumes a paused one.
func (s *Session) TogglePause(ctx context.Context, reason string) (Snapshot, error) {
	return s.manual(ctx, func() (State, bool) { return s.machine.TogglePause(reason) })
}

// SetPauseReason replaces the reason of a paused trip without resuming it.
func (s *Session) SetPauseReason(ctx context.Context, reason string) (Snapshot, error) {
	return s.manual(ctx, func() (State, bool) { return s.machine.SetPauseReason(reason) })
}

// MarkArrived completes the trip and ends the session.
func (s *Session) MarkArrived(ctx context.Context) (Snapshot, error) {
	return s.manual(ctx, s.machine.Arrive)
}

// TriggerPanic puts the trip in danger, persists that, then alerts the
// owner's emergency contact. The alert runs off the session loop and its
// failure is reported in the result without touching the status.
func (s *Session) TriggerPanic(ctx context.Context) (PanicResult, error) {
	var res PanicResult
	err := s.do(ctx, func() {
		state, changed := s.machine.Panic()
		if changed {
			res.PersistErr = s.commit(state, true, true, s.deps.Clock())
		}
		res.Snapshot = s.snapshot()
	})
	if err != nil {
		return PanicResult{}, err
	}
	if res.Snapshot.Status != trip.StatusDanger {
		return res, nil
	}

	res.AlertErr = s.alert(ctx)
	return res, nil
}

func (s *Session) alert(ctx context.Context) error {
	if s.deps.Alerts == nil {
		return errors.New("no alert provider configured")
	}
	contact, err := s.deps.Trips.EmergencyContact(ctx, s.tripID)
	if err != nil {
		s.log.WithError(err).Error("load emergency contact")
		return fmt.Errorf("load emergency contact: %w", err)
	}
	if err := s.deps.Alerts.Notify(ctx, contact); err != nil {
		s.log.WithError(err).Error("emergency alert not delivered")
		return err
	}
	return nil
}

func (s *Session) manual(ctx context.Context, step func() (State, bool)) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		before := s.machine.State().Status
		state, changed := step()
		if changed {
			s.commit(state, true, state.Status != before, s.deps.Clock())
		}
		snap = s.snapshot()
	})
	return snap, err
}

func (s *Session) handleSample(smp Sample) {
	state := s.machine.State()
	if !state.Status.Tracking() {
		s.log.WithField("status", state.Status).Debug("ignoring fix")
		return
	}
	if smp.RecordedAt.IsZero() {
		smp.RecordedAt = s.deps.Clock()
	}

	kmh := s.estimator.Estimate(smp)
	s.speedKmh = RoundKmh(kmh)
	s.position = &trip.Position{Lat: smp.Lat, Lng: smp.Lng}
	s.lastSampleAt = s.deps.Clock()
	if s.stale {
		s.stale = false
		s.log.Info("signal restored")
	}

	next, changed := s.machine.Observe(kmh, smp.RecordedAt)
	if changed {
		s.log.WithFields(logrus.Fields{"status": next.Status, "speed_kmh": s.speedKmh}).Info("automatic status change")
	}
	s.commit(next, changed, changed, smp.RecordedAt)

	// A transition entry already covers this fix.
	if !changed && s.throttle.Due(smp.RecordedAt) && s.appendLog(next.Status, smp.RecordedAt) == nil {
		s.throttle.Mark(smp.RecordedAt)
	}
}

func (s *Session) handleLocationError(lerr *LocationError) {
	s.log.WithField("kind", lerr.Kind).Warn(lerr.Error())
	s.publish(Event{Type: EventLocationError, Detail: string(lerr.Kind)})
}

// checkSignal flags the session stale when no fix has arrived for longer
// than StaleAfter. The trip itself is left alone.
func (s *Session) checkSignal() {
	if s.stale || !s.machine.State().Status.Tracking() {
		return
	}
	last := s.lastSampleAt
	if last.IsZero() {
		last = s.openedAt
	}
	if s.deps.Clock().Sub(last) <= s.cfg.StaleAfter {
		return
	}
	s.stale = true
	s.log.WithField("last_sample_at", last).Warn("no fix received, signal stale")
	s.publish(Event{Type: EventSignalStale})
}

// commit persists the current position and speed, plus status and reason
// when writeStatus is set. A transition also gets its own history entry,
// written straight away.
func (s *Session) commit(state State, writeStatus, transition bool, at time.Time) error {
	speed := s.speedKmh
	patch := trip.Patch{Speed: &speed, LastUpdated: s.stamp()}
	if s.position != nil {
		pos := *s.position
		patch.Position = &pos
	}
	if writeStatus {
		patch.Status = &state.Status
		patch.PauseReason = state.PauseReason
		patch.SystemPaused = state.SystemPaused
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.deps.Trips.UpdateTrip(ctx, s.tripID, patch)
	switch {
	case errors.Is(err, apperrors.ErrStaleWrite):
		s.log.WithError(err).Debug("trip update superseded")
	case err != nil:
		s.log.WithError(err).Error("trip update failed")
	default:
		s.publish(Event{Type: EventTripChanged})
	}

	if transition {
		if logErr := s.appendLog(state.Status, at); logErr != nil && err == nil {
			s.log.WithError(logErr).Warn("transition recorded on trip but not in history")
		}
	}
	return err
}

func (s *Session) appendLog(status trip.Status, at time.Time) error {
	if s.position == nil {
		return errors.New("no position to log")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.deps.Logs.Append(ctx, &triplog.Entry{
		TripID:       s.tripID,
		Lat:          s.position.Lat,
		Lng:          s.position.Lng,
		StatusAtTime: status,
		RecordedAt:   at,
	})
	if err != nil {
		s.log.WithError(err).Error("trip log append failed")
	}
	return err
}

// stamp returns the write time for the next update, never earlier than the
// previous one.
func (s *Session) stamp() time.Time {
	now := s.deps.Clock()
	if now.Before(s.lastWrite) {
		now = s.lastWrite
	}
	s.lastWrite = now
	return now
}

func (s *Session) publish(ev Event) {
	if s.deps.Feed == nil {
		return
	}
	state := s.machine.State()
	ev.TripID = s.tripID
	ev.Status = state.Status
	ev.PauseReason = state.PauseReason
	ev.Position = s.position
	ev.SpeedKmh = s.speedKmh
	ev.At = s.deps.Clock()
	if err := s.deps.Feed.Publish(s.tripID, ev); err != nil {
		s.log.WithError(err).Warn("publish trip event")
	}
}

func (s *Session) snapshot() Snapshot {
	state := s.machine.State()
	snap := Snapshot{
		TripID:       s.tripID,
		Status:       state.Status,
		PauseReason:  state.PauseReason,
		SystemPaused: state.SystemPaused,
		SpeedKmh:     s.speedKmh,
		Stale:        s.stale,
	}
	if s.position != nil {
		pos := *s.position
		snap.Position = &pos
	}
	if !s.lastSampleAt.IsZero() {
		at := s.lastSampleAt
		snap.LastSampleAt = &at
	}
	return snap
}
