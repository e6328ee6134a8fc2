package tracking

import "time"

// Sample is a raw device location reading. Speed and heading are optional
// because browsers and some handsets omit them.
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	SpeedMps       *float64  `json:"speed_mps,omitempty"`
	HeadingDeg     *float64  `json:"heading_deg,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// RoutePoint is an accepted sample retained on a trip's route.
type RoutePoint struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
	SpeedMph   *float64  `json:"speed_mph,omitempty"`
}

// Metrics is the live view of a trip, always derived from its route.
type Metrics struct {
	DistanceMiles   float64 `json:"distance_miles"`
	AvgSpeedMph     float64 `json:"avg_speed_mph"`
	MaxSpeedMph     float64 `json:"max_speed_mph"`
	DurationMinutes int     `json:"duration_minutes"`
}

type Quality string

const (
	QualityGPS         Quality = "gps"
	QualityApproximate Quality = "approximate"
	QualityCoarse      Quality = "coarse"
	QualityUnusable    Quality = "unusable"
)

type Motion string

const (
	MotionMoving Motion = "moving"
	MotionIdle   Motion = "idle"
)

type Reason string

const (
	ReasonAccepted    Reason = "accepted"
	ReasonLowAccuracy Reason = "low_accuracy"
	ReasonInvalid     Reason = "invalid"
	ReasonStale       Reason = "stale"
	ReasonDuplicate   Reason = "duplicate"
)

// Decision is the filter verdict for a single sample.
type Decision struct {
	Keep    bool
	Reason  Reason
	Quality Quality
	Motion  Motion
	Point   RoutePoint
}
