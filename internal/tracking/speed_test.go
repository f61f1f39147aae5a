package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mps(v float64) *float64 { return &v }

func TestEstimateUsesDeviceSpeed(t *testing.T) {
	e := &SpeedEstimator{}
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	e.Estimate(Sample{Lat: 6.5, Lng: 3.4, RecordedAt: t0})
	// 1 km away after a minute would be 60 km/h; the device speed wins.
	got := e.Estimate(Sample{Lat: 6.509, Lng: 3.4, SpeedMps: mps(10), RecordedAt: t0.Add(time.Minute)})
	assert.InDelta(t, 36.0, got, 1e-9)
	assert.Equal(t, 36, RoundKmh(got))
}

func TestEstimateHaversineFallback(t *testing.T) {
	e := &SpeedEstimator{}
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	assert.Zero(t, e.Estimate(Sample{Lat: 0, Lng: 0, RecordedAt: t0}), "first fix has nothing to compare with")

	// One degree of longitude on the equator is ~111.19 km.
	got := e.Estimate(Sample{Lat: 0, Lng: 1, RecordedAt: t0.Add(time.Hour)})
	assert.InDelta(t, 111.19, got, 0.01)
}

func TestEstimateNegativeDeviceSpeedFallsBack(t *testing.T) {
	e := &SpeedEstimator{}
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	e.Estimate(Sample{Lat: 0, Lng: 0, RecordedAt: t0})
	got := e.Estimate(Sample{Lat: 0, Lng: 1, SpeedMps: mps(-1), RecordedAt: t0.Add(time.Hour)})
	assert.InDelta(t, 111.19, got, 0.01)
}

func TestEstimateNonPositiveElapsed(t *testing.T) {
	e := &SpeedEstimator{}
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	e.Estimate(Sample{Lat: 0, Lng: 0, RecordedAt: t0})
	assert.Zero(t, e.Estimate(Sample{Lat: 0, Lng: 1, RecordedAt: t0}))
	assert.Zero(t, e.Estimate(Sample{Lat: 0, Lng: 2, RecordedAt: t0.Add(-time.Second)}))
}

func TestEstimateNoiseFloor(t *testing.T) {
	cases := []float64{0, 0.01, 0.1, 0.277} // m/s, all below 1 km/h
	for _, v := range cases {
		e := &SpeedEstimator{}
		assert.Zero(t, e.Estimate(Sample{SpeedMps: mps(v)}), "%.3f m/s", v)
	}

	e := &SpeedEstimator{}
	assert.InDelta(t, 1.08, e.Estimate(Sample{SpeedMps: mps(0.3)}), 1e-9)
}

func TestEstimateKeepsLatestAsPrevious(t *testing.T) {
	e := &SpeedEstimator{}
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	e.Estimate(Sample{Lat: 0, Lng: 0, RecordedAt: t0})
	e.Estimate(Sample{Lat: 0, Lng: 1, SpeedMps: mps(3), RecordedAt: t0.Add(time.Hour)})
	// Compared against the second fix, not the first.
	assert.Zero(t, e.Estimate(Sample{Lat: 0, Lng: 1, RecordedAt: t0.Add(2 * time.Hour)}))

	e.Reset()
	assert.Zero(t, e.Estimate(Sample{Lat: 10, Lng: 10, RecordedAt: t0.Add(3 * time.Hour)}))
}

func TestRoundKmh(t *testing.T) {
	assert.Equal(t, 0, RoundKmh(0))
	assert.Equal(t, 5, RoundKmh(4.5))
	assert.Equal(t, 4, RoundKmh(4.49))
	assert.Equal(t, 80, RoundKmh(79.9))
}
