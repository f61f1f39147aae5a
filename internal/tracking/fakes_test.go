package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexzee/corpersafe/internal/logger"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/trip"
	"github.com/lexzee/corpersafe/internal/triplog"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	trips     map[string]trip.Trip
	patches   []trip.Patch
	failNext  int
	updateErr error
	contact   trip.Contact
}

func newFakeStore(trips ...trip.Trip) *fakeStore {
	s := &fakeStore{trips: map[string]trip.Trip{}}
	for _, t := range trips {
		s.trips[t.ID] = t
	}
	return s
}

func (s *fakeStore) GetTrip(_ context.Context, id string) (trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return trip.Trip{}, apperrors.ErrNotFound
	}
	return t, nil
}

// UpdateTrip applies the patch the way the Postgres store does.
func (s *fakeStore) UpdateTrip(_ context.Context, id string, p trip.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patches = append(s.patches, p)
	if s.failNext > 0 {
		s.failNext--
		return s.updateErr
	}

	t := s.trips[id]
	if t.LastUpdated != nil && t.LastUpdated.After(p.LastUpdated) {
		return apperrors.ErrStaleWrite
	}
	switch {
	case p.Status != nil:
		t.Status = *p.Status
		t.PauseReason = nil
		t.SystemPaused = false
		if *p.Status == trip.StatusPaused {
			t.PauseReason = p.PauseReason
			t.SystemPaused = p.SystemPaused
		}
	case p.PauseReason != nil && t.Status == trip.StatusPaused:
		t.PauseReason = p.PauseReason
	}
	if p.Position != nil {
		t.CurrentLat, t.CurrentLng = p.Position.Lat, p.Position.Lng
	}
	if p.Speed != nil {
		t.CurrentSpeed = *p.Speed
	}
	at := p.LastUpdated
	t.LastUpdated = &at
	s.trips[id] = t
	return nil
}

func (s *fakeStore) EmergencyContact(_ context.Context, tripID string) (trip.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contact.TripID != tripID {
		return trip.Contact{}, apperrors.ErrNotFound
	}
	return s.contact, nil
}

func (s *fakeStore) trip(id string) trip.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trips[id]
}

func (s *fakeStore) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patches)
}

type fakeLogs struct {
	mu       sync.Mutex
	entries  []triplog.Entry
	failNext int
}

func (l *fakeLogs) Append(_ context.Context, e *triplog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return errors.New("log store down")
	}
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, *e)
	return nil
}

func (l *fakeLogs) all() []triplog.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]triplog.Entry(nil), l.entries...)
}

type fakeAlerter struct {
	mu    sync.Mutex
	sent  []trip.Contact
	err   error
	store *fakeStore
	// statusAtSend is the stored status seen when the alert went out.
	statusAtSend trip.Status
}

func (a *fakeAlerter) Notify(_ context.Context, c trip.Contact) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, c)
	if a.store != nil {
		a.statusAtSend = a.store.trip(c.TripID).Status
	}
	return a.err
}

type fakeFeed struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeFeed) Publish(_ string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event.(Event))
	return nil
}

func (f *fakeFeed) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   *fakeStore
	logs    *fakeLogs
	alerts  *fakeAlerter
	feed    *fakeFeed
	clock   *fakeClock
	src     *PushSource
	manager *Manager
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Watch = WatchOptions{HighAccuracy: true}
	cfg.LocateTimeout = 200 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, trips ...trip.Trip) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(trips...),
		logs:  &fakeLogs{},
		feed:  &fakeFeed{},
		clock: &fakeClock{now: t0},
		src:   NewPushSource(0),
	}
	h.alerts = &fakeAlerter{store: h.store}
	h.manager = NewManager(cfg, Deps{
		Trips:  h.store,
		Logs:   h.logs,
		Alerts: h.alerts,
		Feed:   h.feed,
		Source: h.src,
		Log:    logger.Discard(),
		Clock:  h.clock.Now,
	})
	t.Cleanup(h.manager.Shutdown)
	return h
}

func (h *harness) open(t *testing.T, tripID string) *Session {
	t.Helper()
	s, err := h.manager.Open(context.Background(), tripID, "user-1")
	require.NoError(t, err)
	return s
}

// push hands a fix to the session. Push returns once the session loop has
// taken the fix, and the loop finishes it before serving the next call.
func (h *harness) push(t *testing.T, tripID string, s Sample) {
	t.Helper()
	require.NoError(t, h.src.Push(context.Background(), tripID, s))
}

func (h *harness) snapshot(t *testing.T, s *Session) Snapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func newTrip(id string, status trip.Status) trip.Trip {
	return trip.Trip{ID: id, PCMID: "user-1", TrackingCode: "NYSC-10001", Status: status, CurrentLat: 6.5, CurrentLng: 3.4}
}

func kmhFix(kmh float64, at time.Time) Sample {
	return Sample{Lat: 6.5, Lng: 3.4, SpeedMps: mps(kmh / 3.6), RecordedAt: at}
}
