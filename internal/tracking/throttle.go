package tracking

import "time"

// LogThrottle spaces history entries at least interval apart, counted from
// the last entry that was actually written.
type LogThrottle struct {
	interval time.Duration
	last     time.Time
}

func NewLogThrottle(interval time.Duration) *LogThrottle {
	return &LogThrottle{interval: interval}
}

func (t *LogThrottle) Due(at time.Time) bool {
	return t.last.IsZero() || at.Sub(t.last) >= t.interval
}

// Mark records a successful append at at.
func (t *LogThrottle) Mark(at time.Time) {
	t.last = at
}
