package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"backend-fieldops/internal/config"
	"backend-fieldops/internal/logging"
	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/tracking"
	"backend-fieldops/internal/trip"

	"github.com/spf13/cobra"
)

// recording is the file format accepted by replay. A bare JSON array of
// samples is also accepted.
type recording struct {
	StaffID string            `json:"staff_id"`
	Samples []tracking.Sample `json:"samples"`
}

type replayReport struct {
	TripID          string         `json:"trip_id"`
	StaffID         string         `json:"staff_id"`
	Samples         int            `json:"samples"`
	RoutePoints     int            `json:"route_points"`
	Decisions       map[string]int `json:"decisions"`
	DistanceMiles   float64        `json:"distance_miles"`
	CostUSD         float64        `json:"cost_usd"`
	DurationMinutes int            `json:"duration_minutes"`
	AvgSpeedMph     float64        `json:"avg_speed_mph"`
	MaxSpeedMph     float64        `json:"max_speed_mph"`
	Degraded        bool           `json:"degraded_accuracy"`
}

func newReplayCmd() *cobra.Command {
	var rate float64
	var staffID string

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a recorded sample file through the trip engine",
		Long: `Replay a recorded sample file through the trip engine and print the
trip summary. The first sample starts the trip and the trip ends at the
last sample's time. Thresholds come from the environment, as for the API.

Examples:
  fieldops replay drive.json
  fieldops replay drive.json --rate 0.655 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rec, err := parseRecording(raw)
			if err != nil {
				return err
			}
			if staffID != "" {
				rec.StaffID = staffID
			}
			cfg := config.Load()
			if err := cfg.CheckThresholds(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s, using default accuracy thresholds\n", err)
			}
			if rate <= 0 {
				rate = cfg.DefaultCostPerMile
			}
			report, err := replay(context.Background(), rec, cfg.Thresholds(), rate)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Float64Var(&rate, "rate", 0, "cost per mile in USD (default from DEFAULT_COST_PER_MILE)")
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id to attribute the trip to")

	return cmd
}

func parseRecording(raw []byte) (recording, error) {
	raw = bytes.TrimSpace(raw)
	var rec recording
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &rec.Samples); err != nil {
			return recording{}, fmt.Errorf("parse samples: %w", err)
		}
	} else if err := json.Unmarshal(raw, &rec); err != nil {
		return recording{}, fmt.Errorf("parse recording: %w", err)
	}
	if len(rec.Samples) == 0 {
		return recording{}, errors.New("recording has no samples")
	}
	if rec.StaffID == "" {
		rec.StaffID = "replay"
	}
	return rec, nil
}

type fixedRate float64

func (r fixedRate) CostPerMile(context.Context, string) (float64, error) { return float64(r), nil }

// replay feeds the samples in file order, moving the clock to each sample's
// capture time so durations match the recording.
func replay(ctx context.Context, rec recording, th tracking.Thresholds, rate float64) (replayReport, error) {
	first := rec.Samples[0]
	if first.CapturedAt.IsZero() {
		return replayReport{}, errors.New("first sample has no captured_at")
	}
	clk := clock.NewFake(first.CapturedAt)
	svc := trip.NewService(trip.Options{
		Thresholds: th,
		Clock:      clk,
		Rates:      fixedRate(rate),
		Log:        logging.Discard(),
	})

	t, err := svc.StartTrip(ctx, rec.StaffID, first)
	if err != nil {
		return replayReport{}, fmt.Errorf("start trip: %w", err)
	}

	report := replayReport{TripID: t.ID, StaffID: rec.StaffID, Samples: len(rec.Samples), Decisions: map[string]int{}, Degraded: t.DegradedAccuracy}
	var metrics tracking.Metrics
	for _, s := range rec.Samples[1:] {
		if s.CapturedAt.After(clk.Now()) {
			clk.Set(s.CapturedAt)
		}
		res, err := svc.IngestSample(ctx, trip.Ref{TripID: t.ID}, s)
		if err != nil && !errors.Is(err, trip.ErrInvalidSample) {
			return replayReport{}, fmt.Errorf("ingest: %w", err)
		}
		report.Decisions[string(res.Reason)]++
		metrics = res.Metrics
	}

	summary, err := svc.EndTrip(ctx, trip.Ref{TripID: t.ID})
	if err != nil {
		return replayReport{}, fmt.Errorf("end trip: %w", err)
	}
	ended, err := svc.GetTrip(t.ID)
	if err != nil {
		return replayReport{}, err
	}

	report.RoutePoints = len(ended.Route)
	report.DistanceMiles = summary.DistanceMiles
	report.CostUSD = tracking.RoundCurrency(summary.CostUSD)
	report.DurationMinutes = summary.DurationMinutes
	report.AvgSpeedMph = metrics.AvgSpeedMph
	report.MaxSpeedMph = metrics.MaxSpeedMph
	return report, nil
}

func printReport(w io.Writer, r replayReport) {
	fmt.Fprintf(w, "Trip %s (%s)\n", r.TripID, r.StaffID)
	fmt.Fprintf(w, "  Samples:   %d (%d kept on route)\n", r.Samples, r.RoutePoints)
	fmt.Fprintf(w, "  Distance:  %.2f mi\n", r.DistanceMiles)
	fmt.Fprintf(w, "  Cost:      $%.2f\n", r.CostUSD)
	fmt.Fprintf(w, "  Duration:  %d min\n", r.DurationMinutes)
	fmt.Fprintf(w, "  Speed:     avg %.1f mph, max %.1f mph\n", r.AvgSpeedMph, r.MaxSpeedMph)
	if r.Degraded {
		fmt.Fprintln(w, "  Started with degraded accuracy")
	}

	reasons := make([]string, 0, len(r.Decisions))
	for reason := range r.Decisions {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-12s %d\n", reason+":", r.Decisions[reason])
	}
}
