package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexzee/corpersafe/internal/shared/apperrors"
	"github.com/lexzee/corpersafe/internal/shared/geo"
)

var ErrAlreadySubscribed = errors.New("trip already has a position subscription")

// Subscription is a live feed of one trip's fixes. Channels are never
// closed; Done is closed by Unsubscribe.
type Subscription struct {
	TripID  string
	Options WatchOptions

	samples chan Sample
	errs    chan *LocationError
	done    chan struct{}
	once    sync.Once
	release func()
}

func (s *Subscription) Samples() <-chan Sample        { return s.samples }
func (s *Subscription) Errors() <-chan *LocationError { return s.errs }
func (s *Subscription) Done() <-chan struct{}         { return s.done }

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

type locateResult struct {
	sample Sample
	err    error
}

// PushSource is fed by devices over HTTP or websocket. Push hands a fix to
// the subscriber and returns once the subscriber has taken it, so a trip's
// fixes are handled one at a time in the order they were pushed.
type PushSource struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	subs    map[string]*Subscription
	waiters map[string]map[chan locateResult]struct{}
}

func NewPushSource(maxAge time.Duration) *PushSource {
	return &PushSource{
		maxAge:  maxAge,
		now:     time.Now,
		subs:    map[string]*Subscription{},
		waiters: map[string]map[chan locateResult]struct{}{},
	}
}

func (p *PushSource) Subscribe(tripID string, opts WatchOptions) (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[tripID]; ok {
		return nil, ErrAlreadySubscribed
	}
	sub := &Subscription{
		TripID:  tripID,
		Options: opts,
		samples: make(chan Sample),
		errs:    make(chan *LocationError),
		done:    make(chan struct{}),
	}
	sub.release = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subs[tripID] == sub {
			delete(p.subs, tripID)
		}
	}
	p.subs[tripID] = sub
	return sub, nil
}

// Push delivers a fix. Fixes older than the max sample age are refused.
// A fix that resolves a pending Locate goes to that caller only.
func (p *PushSource) Push(ctx context.Context, tripID string, s Sample) error {
	if !geo.ValidCoordinate(s.Lat, s.Lng) {
		return fmt.Errorf("%w: coordinate out of range", apperrors.ErrInvalidInput)
	}
	now := p.now()
	if s.RecordedAt.IsZero() {
		s.RecordedAt = now
	}

	p.mu.Lock()
	sub := p.subs[tripID]
	maxAge := p.maxAge
	if sub != nil && sub.Options.MaxSampleAgeMs > 0 {
		maxAge = time.Duration(sub.Options.MaxSampleAgeMs) * time.Millisecond
	}
	if maxAge > 0 && now.Sub(s.RecordedAt) > maxAge {
		p.mu.Unlock()
		return fmt.Errorf("%w: sample older than %s", apperrors.ErrInvalidInput, maxAge)
	}
	resolved := p.resolveLocked(tripID, locateResult{sample: s})
	p.mu.Unlock()

	// A fix that answered Locate is already consumed by the caller.
	if resolved {
		return nil
	}
	if sub == nil {
		return apperrors.ErrSessionClosed
	}

	select {
	case sub.samples <- s:
		return nil
	case <-sub.done:
		return apperrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail reports a location error from the device.
func (p *PushSource) Fail(ctx context.Context, tripID string, lerr *LocationError) error {
	if !lerr.Kind.Valid() {
		return fmt.Errorf("%w: unknown location error %q", apperrors.ErrInvalidInput, lerr.Kind)
	}

	p.mu.Lock()
	sub := p.subs[tripID]
	resolved := p.resolveLocked(tripID, locateResult{err: lerr})
	p.mu.Unlock()

	if resolved {
		return nil
	}
	if sub == nil {
		return apperrors.ErrSessionClosed
	}

	select {
	case sub.errs <- lerr:
		return nil
	case <-sub.done:
		return apperrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Locate waits for the next fix or location error pushed for tripID.
func (p *PushSource) Locate(ctx context.Context, tripID string, timeout time.Duration) (Sample, error) {
	ch := make(chan locateResult, 1)

	p.mu.Lock()
	if p.waiters[tripID] == nil {
		p.waiters[tripID] = map[chan locateResult]struct{}{}
	}
	p.waiters[tripID][ch] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters[tripID], ch)
		if len(p.waiters[tripID]) == 0 {
			delete(p.waiters, tripID)
		}
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return Sample{}, res.err
		}
		return res.sample, nil
	case <-timer.C:
		return Sample{}, fmt.Errorf("no fix within %s: %w", timeout, apperrors.ErrLocationTimeout)
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

func (p *PushSource) resolveLocked(tripID string, res locateResult) bool {
	waiting := p.waiters[tripID]
	for ch := range waiting {
		select {
		case ch <- res:
		default:
		}
	}
	delete(p.waiters, tripID)
	return len(waiting) > 0
}
