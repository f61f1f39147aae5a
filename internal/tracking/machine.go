package tracking

import (
	"strings"
	"time"

	"github.com/lexzee/corpersafe/internal/trip"
)

const (
	AutoPauseReason   = "Traffic / Slow Movement"
	ManualPauseReason = "Paused by traveller"
)

// Thresholds drive the automatic pause and resume rules. Pausing needs the
// speed below PauseBelowKmh for longer than StopWindow; resuming a system
// pause needs the speed above ResumeAboveKmh.
type Thresholds struct {
	PauseBelowKmh  float64
	ResumeAboveKmh float64
	StopWindow     time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{PauseBelowKmh: 5, ResumeAboveKmh: 10, StopWindow: 5 * time.Minute}
}

// State is what the machine exposes after every step.
type State struct {
	Status       trip.Status
	PauseReason  *string
	SystemPaused bool
}

// Machine is the trip status state machine. Every method returns the state
// after the step and whether anything changed; a step that is not legal in
// the current status leaves the state alone.
type Machine struct {
	th        Thresholds
	state     State
	stopSince time.Time
}

// NewMachine resumes from a stored state. Only a stored pause flagged as
// system-initiated can be resumed automatically; the reason text plays no
// part in that.
func NewMachine(stored State, th Thresholds) *Machine {
	m := &Machine{th: th, state: State{Status: stored.Status}}
	if stored.Status == trip.StatusPaused {
		r := ManualPauseReason
		if stored.PauseReason != nil && *stored.PauseReason != "" {
			r = *stored.PauseReason
		}
		m.state.PauseReason = &r
		m.state.SystemPaused = stored.SystemPaused
	}
	return m
}

func (m *Machine) State() State {
	s := m.state
	if s.PauseReason != nil {
		r := *s.PauseReason
		s.PauseReason = &r
	}
	return s
}

// Start moves a pending trip to active.
func (m *Machine) Start() (State, bool) {
	if m.state.Status != trip.StatusPending {
		return m.State(), false
	}
	m.setActive()
	return m.State(), true
}

// TogglePause pauses an active trip or resumes a paused one. Pauses made
// here are never resumed automatically.
func (m *Machine) TogglePause(reason string) (State, bool) {
	switch m.state.Status {
	case trip.StatusActive:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = ManualPauseReason
		}
		m.setPaused(reason, false)
	case trip.StatusPaused:
		m.setActive()
	default:
		return m.State(), false
	}
	return m.State(), true
}

func (m *Machine) SetPauseReason(reason string) (State, bool) {
	reason = strings.TrimSpace(reason)
	if m.state.Status != trip.StatusPaused || reason == "" || (m.state.PauseReason != nil && *m.state.PauseReason == reason) {
		return m.State(), false
	}
	m.state.PauseReason = &reason
	return m.State(), true
}

func (m *Machine) Arrive() (State, bool) {
	if !m.state.Status.Tracking() {
		return m.State(), false
	}
	m.state = State{Status: trip.StatusCompleted}
	m.stopSince = time.Time{}
	return m.State(), true
}

// Panic moves any trip that is not completed to danger.
func (m *Machine) Panic() (State, bool) {
	if m.state.Status == trip.StatusCompleted || m.state.Status == trip.StatusDanger {
		return m.State(), false
	}
	m.state = State{Status: trip.StatusDanger}
	m.stopSince = time.Time{}
	return m.State(), true
}

// Observe applies the automatic rules to a speed measured at at.
func (m *Machine) Observe(kmh float64, at time.Time) (State, bool) {
	switch m.state.Status {
	case trip.StatusActive:
		if kmh >= m.th.PauseBelowKmh {
			m.stopSince = time.Time{}
			return m.State(), false
		}
		if m.stopSince.IsZero() {
			m.stopSince = at
			return m.State(), false
		}
		if at.Sub(m.stopSince) > m.th.StopWindow {
			m.setPaused(AutoPauseReason, true)
			return m.State(), true
		}
	case trip.StatusPaused:
		if m.state.SystemPaused && kmh > m.th.ResumeAboveKmh {
			m.setActive()
			return m.State(), true
		}
	}
	return m.State(), false
}

func (m *Machine) setActive() {
	m.state = State{Status: trip.StatusActive}
	m.stopSince = time.Time{}
}

func (m *Machine) setPaused(reason string, system bool) {
	m.state = State{Status: trip.StatusPaused, PauseReason: &reason, SystemPaused: system}
	m.stopSince = time.Time{}
}
