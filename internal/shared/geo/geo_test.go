package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineKmSamePoint(t *testing.T) {
	if d := HaversineKm(9.082, 8.6753, 9.082, 8.6753); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestHaversineKmOneDegreeLatitude(t *testing.T) {
	// one degree of latitude on a 6371 km sphere
	d := HaversineKm(0, 0, 1, 0)
	if math.Abs(d-111.195) > 0.01 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestValidCoordinate(t *testing.T) {
	if !ValidCoordinate(6.5244, 3.3792) {
		t.Fatalf("expected Lagos to be valid")
	}
	if ValidCoordinate(91, 0) || ValidCoordinate(0, 181) || ValidCoordinate(math.NaN(), 0) {
		t.Fatalf("expected invalid coordinates to be rejected")
	}
}
