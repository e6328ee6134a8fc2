// Package store mirrors trips and visits into Postgres. It is written to from
// the persistence queue only; in-memory engine state stays authoritative.
package store

import (
	"context"
	"fmt"
	"time"

	"backend-fieldops/internal/db"
	"backend-fieldops/internal/tracking"
	"backend-fieldops/internal/trip"
	"backend-fieldops/internal/visit"
)

type Store struct {
	db db.Querier
}

func New(q db.Querier) *Store {
	return &Store{db: q}
}

// SaveTrip upserts the trip header. Money is rounded to cents here and
// nowhere earlier.
func (s *Store) SaveTrip(ctx context.Context, t trip.Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (id, staff_id, status, started_at, ended_at, total_distance_miles, total_cost_usd, cost_per_mile_usd, degraded_accuracy)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET status=EXCLUDED.status, ended_at=EXCLUDED.ended_at,
		    total_distance_miles=EXCLUDED.total_distance_miles, total_cost_usd=EXCLUDED.total_cost_usd
		WHERE trips.status <> 'ended'
	`, t.ID, t.StaffID, string(t.Status), t.StartedAt, t.EndedAt, t.TotalDistanceMiles,
		tracking.RoundCurrency(t.TotalCostUSD), t.CostPerMileUSD, t.DegradedAccuracy)
	if err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) AppendRoutePoint(ctx context.Context, tripID string, seq int, p tracking.RoutePoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_route_points (trip_id, seq, latitude, longitude, speed_mph, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (trip_id, seq) DO NOTHING
	`, tripID, seq, p.Latitude, p.Longitude, p.SpeedMph, p.CapturedAt)
	if err != nil {
		return fmt.Errorf("append route point %s/%d: %w", tripID, seq, err)
	}
	return nil
}

func (s *Store) SaveVisit(ctx context.Context, v visit.Visit) error {
	var tripID *string
	if v.TripID != "" {
		tripID = &v.TripID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO visits (id, staff_id, trip_id, patient_name, patient_address, visit_type, status, started_at, ended_at, drive_time_minutes, duration_minutes, notes, cancel_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE
		SET status=EXCLUDED.status, ended_at=EXCLUDED.ended_at, duration_minutes=EXCLUDED.duration_minutes,
		    notes=EXCLUDED.notes, cancel_reason=EXCLUDED.cancel_reason
		WHERE visits.status = 'in_progress'
	`, v.ID, v.StaffID, tripID, v.PatientName, v.PatientAddress, string(v.VisitType), string(v.Status),
		v.StartedAt, v.EndedAt, v.DriveTimeMinutes, v.DurationMinutes, v.Notes, v.CancelReason)
	if err != nil {
		return fmt.Errorf("save visit %s: %w", v.ID, err)
	}
	return nil
}

// TripRecord is a persisted trip header, without its route.
type TripRecord struct {
	ID                 string     `json:"id"`
	StaffID            string     `json:"staff_id"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	TotalDistanceMiles float64    `json:"total_distance_miles"`
	TotalCostUSD       float64    `json:"total_cost_usd"`
}

// RecentTrips lists a staff member's trips, newest first.
func (s *Store) RecentTrips(ctx context.Context, staffID string, limit int) ([]TripRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, staff_id, status, started_at, ended_at, total_distance_miles, total_cost_usd::float8
		FROM trips WHERE staff_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, staffID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TripRecord
	for rows.Next() {
		var r TripRecord
		if err := rows.Scan(&r.ID, &r.StaffID, &r.Status, &r.StartedAt, &r.EndedAt, &r.TotalDistanceMiles, &r.TotalCostUSD); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
