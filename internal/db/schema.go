package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		total_distance_miles DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_cost_usd NUMERIC(12,2) NOT NULL DEFAULT 0,
		cost_per_mile_usd NUMERIC(8,4) NOT NULL,
		degraded_accuracy BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS trip_route_points (
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		speed_mph DOUBLE PRECISION,
		captured_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (trip_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		trip_id TEXT,
		patient_name TEXT NOT NULL,
		patient_address TEXT NOT NULL,
		visit_type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		drive_time_minutes INTEGER,
		duration_minutes INTEGER,
		notes TEXT,
		cancel_reason TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS staff_rates (
		staff_id TEXT PRIMARY KEY,
		cost_per_mile_usd NUMERIC(8,4) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS trips_staff_idx ON trips (staff_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS visits_staff_idx ON visits (staff_id, started_at DESC)`,
}

// EnsureSchema creates the tables used by the trip and visit stores.
func EnsureSchema(ctx context.Context, q Querier) error {
	for i, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
