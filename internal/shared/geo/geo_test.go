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

func TestHaversineMilesEquator(t *testing.T) {
	// 0.01 degree of longitude at the equator is ~0.69 miles
	d := HaversineMiles(0, 0, 0, 0.01)
	if math.Abs(d-0.691) > 0.001 {
		t.Fatalf("unexpected distance: %v", d)
	}
	if HaversineMiles(10, 10, 10, 10) != 0 {
		t.Fatalf("expected zero distance for identical points")
	}
}

func TestUnitConversions(t *testing.T) {
	if math.Abs(MpsToMph(10)-22.369) > 0.001 {
		t.Fatalf("unexpected mph: %v", MpsToMph(10))
	}
	// the km and mile radii agree to within a meter over a short hop
	km := HaversineKm(0, 0, 0, 0.01)
	mi := HaversineMiles(0, 0, 0, 0.01)
	if math.Abs(km*1000-mi*metersPerMile) > 1 {
		t.Fatalf("km %v and miles %v disagree", km, mi)
	}
}

func TestValidCoordinate(t *testing.T) {
	if !ValidCoordinate(45, -120) {
		t.Fatalf("expected valid coordinate")
	}
	if ValidCoordinate(91, 0) || ValidCoordinate(0, 181) || ValidCoordinate(math.NaN(), 0) {
		t.Fatalf("expected invalid coordinate")
	}
}
