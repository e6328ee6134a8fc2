package trip

import (
	"time"

	"backend-fieldops/internal/tracking"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Trip is one driving session of a staff member. TotalDistanceMiles and
// TotalCostUSD stay zero while active and are written once by EndTrip;
// live figures come from LiveMetrics.
type Trip struct {
	ID                 string                `json:"id"`
	StaffID            string                `json:"staff_id"`
	Status             Status                `json:"status"`
	StartedAt          time.Time             `json:"started_at"`
	EndedAt            *time.Time            `json:"ended_at,omitempty"`
	Route              []tracking.RoutePoint `json:"route"`
	TotalDistanceMiles float64               `json:"total_distance_miles"`
	TotalCostUSD       float64               `json:"total_cost_usd"`
	CostPerMileUSD     float64               `json:"cost_per_mile_usd"`
	DegradedAccuracy   bool                  `json:"degraded_accuracy"`
}

func (t Trip) clone() Trip {
	out := t
	out.Route = append([]tracking.RoutePoint(nil), t.Route...)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// Ref identifies a trip either directly or through its staff member's
// active trip.
type Ref struct {
	TripID  string `json:"trip_id"`
	StaffID string `json:"staff_id"`
}

type IngestResult struct {
	TripID            string           `json:"trip_id"`
	Accepted          bool             `json:"accepted"`
	Reason            tracking.Reason  `json:"reason"`
	Quality           tracking.Quality `json:"quality"`
	Motion            tracking.Motion  `json:"motion,omitempty"`
	RequiresDeviceGPS bool             `json:"requires_device_gps,omitempty"`
	Metrics           tracking.Metrics `json:"metrics"`
}

// Summary is returned when a trip is closed.
type Summary struct {
	TripID          string    `json:"trip_id"`
	StaffID         string    `json:"staff_id"`
	DistanceMiles   float64   `json:"distance_miles"`
	CostUSD         float64   `json:"cost_usd"`
	DurationMinutes int       `json:"duration_minutes"`
	EndedAt         time.Time `json:"ended_at"`
}

// LiveUpdate is pushed to stream subscribers after each accepted sample.
type LiveUpdate struct {
	TripID  string              `json:"trip_id"`
	StaffID string              `json:"staff_id"`
	Point   tracking.RoutePoint `json:"point"`
	Metrics tracking.Metrics    `json:"metrics"`
}
