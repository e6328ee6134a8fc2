package tracking

import (
	"errors"
	"fmt"
	"math"

	"backend-fieldops/internal/shared/geo"
)

// Thresholds holds the tunable limits used to separate travel from drift.
// Zero fields fall back to DefaultThresholds.
type Thresholds struct {
	GPSAccuracyMeters    float64 `json:"gps_accuracy_meters"`
	CoarseAccuracyMeters float64 `json:"coarse_accuracy_meters"`
	LowAccuracyMeters    float64 `json:"low_accuracy_meters"`
	MovingSpeedMph       float64 `json:"moving_speed_mph"`
	IdleDistanceMiles    float64 `json:"idle_distance_miles"`
	DebounceMeters       float64 `json:"debounce_meters"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		GPSAccuracyMeters:    100,
		CoarseAccuracyMeters: 1000,
		LowAccuracyMeters:    2000,
		MovingSpeedMph:       5,
		IdleDistanceMiles:    0.01,
		DebounceMeters:       10,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.GPSAccuracyMeters <= 0 {
		t.GPSAccuracyMeters = d.GPSAccuracyMeters
	}
	if t.CoarseAccuracyMeters <= 0 {
		t.CoarseAccuracyMeters = d.CoarseAccuracyMeters
	}
	if t.LowAccuracyMeters <= 0 {
		t.LowAccuracyMeters = d.LowAccuracyMeters
	}
	if t.MovingSpeedMph <= 0 {
		t.MovingSpeedMph = d.MovingSpeedMph
	}
	if t.IdleDistanceMiles <= 0 {
		t.IdleDistanceMiles = d.IdleDistanceMiles
	}
	if t.DebounceMeters <= 0 {
		t.DebounceMeters = d.DebounceMeters
	}
	return t
}

// ErrThresholdOrder means the accuracy bands do not satisfy gps < coarse < low.
var ErrThresholdOrder = errors.New("accuracy thresholds out of order")

// Validate checks that the accuracy bands, after defaults, strictly increase.
func (t Thresholds) Validate() error {
	t = t.withDefaults()
	if t.GPSAccuracyMeters < t.CoarseAccuracyMeters && t.CoarseAccuracyMeters < t.LowAccuracyMeters {
		return nil
	}
	return fmt.Errorf("%w: gps=%g coarse=%g low=%g", ErrThresholdOrder,
		t.GPSAccuracyMeters, t.CoarseAccuracyMeters, t.LowAccuracyMeters)
}

// Quality grades a reported accuracy radius.
func (t Thresholds) Quality(accuracyMeters float64) Quality {
	t = t.withDefaults()
	switch {
	case math.IsNaN(accuracyMeters), accuracyMeters > t.LowAccuracyMeters:
		return QualityUnusable
	case accuracyMeters > t.CoarseAccuracyMeters:
		return QualityCoarse
	case accuracyMeters > t.GPSAccuracyMeters:
		return QualityApproximate
	default:
		return QualityGPS
	}
}

// Degraded reports whether accuracy is worse than a real GPS fix.
func (t Thresholds) Degraded(accuracyMeters float64) bool {
	return t.Quality(accuracyMeters) != QualityGPS
}

// Filter classifies incoming samples. It holds no state.
type Filter struct {
	th Thresholds
}

func NewFilter(th Thresholds) Filter {
	return Filter{th: th.withDefaults()}
}

func (f Filter) Thresholds() Thresholds { return f.th }

// Accept decides whether s should be appended after prev. prev is nil for the
// first point of a route.
func (f Filter) Accept(s Sample, prev *RoutePoint) Decision {
	point := PointFromSample(s)
	d := Decision{Point: point, Quality: f.th.Quality(s.AccuracyMeters), Motion: MotionIdle}

	if !geo.ValidCoordinate(s.Latitude, s.Longitude) || !validAccuracy(s.AccuracyMeters) || s.CapturedAt.IsZero() {
		d.Reason = ReasonInvalid
		d.Quality = QualityUnusable
		return d
	}
	if d.Quality == QualityUnusable {
		d.Reason = ReasonLowAccuracy
		return d
	}
	if prev != nil {
		if s.CapturedAt.Before(prev.CapturedAt) {
			d.Reason = ReasonStale
			return d
		}
		if s.CapturedAt.Equal(prev.CapturedAt) && s.Latitude == prev.Latitude && s.Longitude == prev.Longitude {
			d.Reason = ReasonDuplicate
			return d
		}
		d.Motion = classify(*prev, point, f.th)
	}

	d.Keep = true
	d.Reason = ReasonAccepted
	return d
}

func validAccuracy(m float64) bool {
	return m >= 0 && !math.IsNaN(m) && !math.IsInf(m, 0)
}

// PointFromSample converts a raw sample into the route representation.
func PointFromSample(s Sample) RoutePoint {
	p := RoutePoint{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		CapturedAt: s.CapturedAt,
	}
	if s.SpeedMps != nil {
		mph := geo.MpsToMph(*s.SpeedMps)
		p.SpeedMph = &mph
	}
	return p
}

// classify applies the moving rule: a reported speed above the limit, or,
// when speed is unknown, a hop longer than the idle radius.
func classify(prev, next RoutePoint, th Thresholds) Motion {
	if next.SpeedMph != nil {
		if *next.SpeedMph > th.MovingSpeedMph {
			return MotionMoving
		}
		return MotionIdle
	}
	if geo.HaversineMiles(prev.Latitude, prev.Longitude, next.Latitude, next.Longitude) > th.IdleDistanceMiles {
		return MotionMoving
	}
	return MotionIdle
}
