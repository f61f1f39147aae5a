package tracking

import (
	"math"

	"github.com/lexzee/corpersafe/internal/shared/geo"
)

// noiseFloorKmh is the speed below which movement is treated as GPS jitter.
const noiseFloorKmh = 1.0

// SpeedEstimator turns successive samples into km/h. It remembers the last
// sample it was given.
type SpeedEstimator struct {
	prev *Sample
}

// Estimate returns the unrounded speed for s and keeps s as the previous
// sample. Device speed wins over distance travelled.
func (e *SpeedEstimator) Estimate(s Sample) float64 {
	prev := e.prev
	e.prev = &s

	var kmh float64
	switch {
	case s.SpeedMps != nil && *s.SpeedMps >= 0 && !math.IsInf(*s.SpeedMps, 0):
		kmh = *s.SpeedMps * 3.6
	case prev != nil:
		hours := s.RecordedAt.Sub(prev.RecordedAt).Hours()
		if hours <= 0 {
			return 0
		}
		kmh = geo.HaversineKm(prev.Lat, prev.Lng, s.Lat, s.Lng) / hours
	}

	if kmh < noiseFloorKmh {
		return 0
	}
	return kmh
}

// Reset forgets the previous fix, so the next estimate starts from zero.
func (e *SpeedEstimator) Reset() {
	e.prev = nil
}

// RoundKmh is the speed shown to viewers and stored on the trip.
func RoundKmh(kmh float64) int {
	return int(math.Round(kmh))
}
