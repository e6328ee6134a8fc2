package trip

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"backend-fieldops/internal/persist"
	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/tracking"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type syncJobs struct{}

func (syncJobs) Submit(job persist.Job) bool {
	_ = job.Run(context.Background())
	return true
}

type fakeSink struct {
	mu     sync.Mutex
	trips  []Trip
	points map[string][]int
	err    error
}

func (f *fakeSink) SaveTrip(_ context.Context, t Trip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips = append(f.trips, t)
	return f.err
}

func (f *fakeSink) AppendRoutePoint(_ context.Context, tripID string, seq int, _ tracking.RoutePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points == nil {
		f.points = map[string][]int{}
	}
	f.points[tripID] = append(f.points[tripID], seq)
	return f.err
}

type fakeRates struct {
	rate float64
	err  error
}

func (f fakeRates) CostPerMile(context.Context, string) (float64, error) { return f.rate, f.err }

type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeEvents) PublishEvent(kind, _ string, _ any) error {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()
	return nil
}

type fakeLive struct {
	mu       sync.Mutex
	sessions []string
}

func (f *fakeLive) Broadcast(sessionID string, _ []byte) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
}

func f64(v float64) *float64 { return &v }

func gps(lat, lng float64, at time.Time) tracking.Sample {
	return tracking.Sample{Latitude: lat, Longitude: lng, AccuracyMeters: 8, CapturedAt: at}
}

func newTestService(c clock.Clock, opts ...func(*Options)) *Service {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	o := Options{Clock: c, Log: log}
	for _, fn := range opts {
		fn(&o)
	}
	return NewService(o)
}

func TestStartAndIngestOneMinuteDrive(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, trip.Status)
	assert.Len(t, trip.Route, 1)
	assert.False(t, trip.DegradedAccuracy)
	assert.Equal(t, tracking.DefaultCostPerMile, trip.CostPerMileUSD)

	clk.Advance(time.Minute)
	s := gps(0, 0.01, t0.Add(time.Minute))
	s.SpeedMps = f64(10)
	res, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, s)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, tracking.MotionMoving, res.Motion)
	assert.InDelta(t, 0.69, res.Metrics.DistanceMiles, 0.01)
	assert.InDelta(t, 22.4, res.Metrics.AvgSpeedMph, 0.05)
	assert.Equal(t, 1, res.Metrics.DurationMinutes)

	live, err := svc.LiveMetrics(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Metrics, live)
}

func TestIngestLowAccuracyRequiresDeviceGPS(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	bad := tracking.Sample{Latitude: 0, Longitude: 0.5, AccuracyMeters: 5000, CapturedAt: t0.Add(time.Minute)}
	res, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, bad)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.RequiresDeviceGPS)
	assert.Equal(t, tracking.ReasonLowAccuracy, res.Reason)
	assert.Zero(t, res.Metrics.DistanceMiles)

	got, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Len(t, got.Route, 1)
}

func TestStartTripDegradedAccuracy(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	s := gps(1, 1, t0)
	s.AccuracyMeters = 1500

	trip, err := svc.StartTrip(context.Background(), "staff-1", s)
	require.NoError(t, err)
	assert.True(t, trip.DegradedAccuracy)
	assert.Equal(t, 1.0, trip.Route[0].Latitude)
}

func TestStartTripRejectsInvalidInput(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	ctx := context.Background()

	_, err := svc.StartTrip(ctx, " ", gps(0, 0, t0))
	assert.ErrorIs(t, err, ErrStaffRequired)

	_, err = svc.StartTrip(ctx, "staff-1", gps(120, 0, t0))
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = svc.StartTrip(ctx, "staff-1", gps(0, 0, time.Time{}))
	assert.ErrorIs(t, err, ErrInvalidSample)

	nan := gps(0, 0, t0)
	nan.AccuracyMeters = math.NaN()
	_, err = svc.StartTrip(ctx, "staff-1", nan)
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = svc.ActiveTrip("staff-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartTripUsesDeviceTimeForOrdering(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()
	lagging := t0.Add(-20 * time.Second)

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, lagging))
	require.NoError(t, err)
	assert.Equal(t, lagging, trip.Route[0].CapturedAt)

	res, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(0, 0.001, lagging.Add(10*time.Second)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, tracking.ReasonAccepted, res.Reason)
}

func TestStartTripAlreadyActivePerStaff(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	ctx := context.Background()

	_, err := svc.StartTrip(ctx, "staff-x", gps(0, 0, t0))
	require.NoError(t, err)

	_, err = svc.StartTrip(ctx, "staff-x", gps(0, 0, t0))
	assert.ErrorIs(t, err, ErrAlreadyActive)

	_, err = svc.StartTrip(ctx, "staff-y", gps(0, 0, t0))
	assert.NoError(t, err)
}

func TestConcurrentStartTripSameStaff(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, staff := range []string{"staff-x", "staff-y"} {
			wg.Add(1)
			go func(staff string) {
				defer wg.Done()
				_, err := svc.StartTrip(ctx, staff, gps(0, 0, t0))
				results <- err
			}(staff)
		}
	}
	wg.Wait()
	close(results)

	ok, busy := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyActive):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 18, busy)
}

func TestEndTripIsWriteOnce(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk, func(o *Options) { o.Rates = fakeRates{rate: 0.5} })
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	_, err = svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(0, 0.1, t0.Add(10*time.Minute)))
	require.NoError(t, err)

	summary, err := svc.EndTrip(ctx, Ref{TripID: trip.ID})
	require.NoError(t, err)
	assert.InDelta(t, 6.91, summary.DistanceMiles, 0.01)
	assert.InDelta(t, summary.DistanceMiles*0.5, summary.CostUSD, 1e-9)
	assert.Equal(t, 10, summary.DurationMinutes)

	first, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, first.Status)
	require.NotNil(t, first.EndedAt)

	clk.Advance(time.Hour)
	_, err = svc.EndTrip(ctx, Ref{TripID: trip.ID})
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(1, 1, t0.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrNotActive)

	second, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalDistanceMiles, second.TotalDistanceMiles)
	assert.Equal(t, first.TotalCostUSD, second.TotalCostUSD)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)

	live, err := svc.LiveMetrics(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, live.DurationMinutes)
}

func TestEndTripByStaffFallback(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	id, err := svc.ResolveTripID(Ref{TripID: "lost-id", StaffID: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, trip.ID, id)

	summary, err := svc.EndTrip(ctx, Ref{StaffID: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, trip.ID, summary.TripID)

	_, err = svc.EndTrip(ctx, Ref{StaffID: "staff-1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.IngestSample(ctx, Ref{TripID: "missing"}, gps(0, 0, t0))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.LiveMetrics("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLiveMetricsMonotonic(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(40, -75, t0))
	require.NoError(t, err)

	lngs := []float64{-75, -74.9999, -74.999, -74.995, -74.995, -74.98, -74.98005, -74.97, -74.96}
	last := 0.0
	for i, lng := range lngs {
		clk.Advance(20 * time.Second)
		at := t0.Add(time.Duration(i+1) * 20 * time.Second)
		s := gps(40, lng, at)
		if i%3 == 0 {
			s.AccuracyMeters = 3000
		}
		_, err := svc.IngestSample(ctx, Ref{StaffID: "staff-1"}, s)
		require.NoError(t, err)

		m, err := svc.LiveMetrics(trip.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, m.DistanceMiles, last)
		last = m.DistanceMiles
	}
	assert.Greater(t, last, 0.0)
}

func TestIdleSamplesNeverAddDistance(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(34.05, -118.25, t0))
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		clk.Advance(15 * time.Second)
		s := gps(34.05, -118.25, t0.Add(time.Duration(i)*15*time.Second))
		s.AccuracyMeters = float64(i * 19)
		_, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, s)
		require.NoError(t, err)
	}

	summary, err := svc.EndTrip(ctx, Ref{TripID: trip.ID})
	require.NoError(t, err)
	assert.Zero(t, summary.DistanceMiles)
	assert.Zero(t, summary.CostUSD)
}

func TestSameSequenceIsReproducible(t *testing.T) {
	run := func() Summary {
		clk := clock.NewFake(t0)
		svc := newTestService(clk)
		ctx := context.Background()
		_, err := svc.StartTrip(ctx, "staff-1", gps(51.5, -0.12, t0))
		require.NoError(t, err)
		for i := 1; i <= 30; i++ {
			clk.Advance(10 * time.Second)
			s := gps(51.5+float64(i%4)*0.0004, -0.12+float64(i)*0.0007, t0.Add(time.Duration(i)*10*time.Second))
			if i%5 == 0 {
				s.SpeedMps = f64(1)
			}
			_, err := svc.IngestSample(ctx, Ref{StaffID: "staff-1"}, s)
			require.NoError(t, err)
		}
		summary, err := svc.EndTrip(ctx, Ref{StaffID: "staff-1"})
		require.NoError(t, err)
		return summary
	}

	a, b := run(), run()
	assert.Equal(t, a.DistanceMiles, b.DistanceMiles)
	assert.Equal(t, a.CostUSD, b.CostUSD)
	assert.Greater(t, a.DistanceMiles, 0.0)
}

func TestConcurrentIngestSameStaffKeepsRouteOrdered(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, stale := 0, 0
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(0, float64(i)*0.001, t0.Add(time.Duration(i)*time.Second)))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if res.Accepted {
				accepted++
			} else if res.Reason == tracking.ReasonStale {
				stale++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, accepted+stale)
	got, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Len(t, got.Route, accepted+1)
	for i := 1; i < len(got.Route); i++ {
		assert.False(t, got.Route[i].CapturedAt.Before(got.Route[i-1].CapturedAt))
	}
}

func TestPersistenceFailureDoesNotAffectState(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	events := &fakeEvents{}
	live := &fakeLive{}
	clk := clock.NewFake(t0)
	svc := newTestService(clk, func(o *Options) {
		o.Sink = sink
		o.Jobs = syncJobs{}
		o.Events = events
		o.Live = live
	})
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(0, 0.01, t0.Add(time.Minute)))
	require.NoError(t, err)
	_, err = svc.EndTrip(ctx, Ref{TripID: trip.ID})
	require.NoError(t, err)

	got, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)

	require.Len(t, sink.trips, 2)
	assert.Equal(t, StatusActive, sink.trips[0].Status)
	assert.Equal(t, StatusEnded, sink.trips[1].Status)
	assert.Equal(t, []int{0, 1}, sink.points[trip.ID])
	assert.Equal(t, []string{"trip.started", "trip.ended"}, events.kinds)
	assert.Equal(t, []string{trip.ID}, live.sessions)
}

func TestRateLookupFallsBackToDefault(t *testing.T) {
	svc := newTestService(clock.NewFake(t0), func(o *Options) {
		o.Rates = fakeRates{err: errors.New("redis down")}
		o.DefaultCostPerMile = 0.7
	})
	trip, err := svc.StartTrip(context.Background(), "staff-1", gps(0, 0, t0))
	require.NoError(t, err)
	assert.Equal(t, 0.7, trip.CostPerMileUSD)
}

func TestClockUnavailableAbortsWithoutMutation(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	clk.Set(time.Time{})
	_, err = svc.EndTrip(ctx, Ref{TripID: trip.ID})
	assert.ErrorIs(t, err, clock.ErrUnavailable)
	_, err = svc.IngestSample(ctx, Ref{TripID: trip.ID}, gps(0, 1, t0.Add(time.Minute)))
	assert.ErrorIs(t, err, clock.ErrUnavailable)

	got, err := svc.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Len(t, got.Route, 1)
}

func TestIngestInvalidSample(t *testing.T) {
	svc := newTestService(clock.NewFake(t0))
	ctx := context.Background()
	trip, err := svc.StartTrip(ctx, "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	res, err := svc.IngestSample(ctx, Ref{TripID: trip.ID}, tracking.Sample{Latitude: 0, Longitude: 0, AccuracyMeters: -5, CapturedAt: t0})
	assert.ErrorIs(t, err, ErrInvalidSample)
	assert.False(t, res.Accepted)
}

func TestOnEndedHookAndPrune(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	ctx := context.Background()

	var ended []string
	svc.OnEnded(func(tr Trip) { ended = append(ended, tr.StaffID) })

	for i := 0; i < 3; i++ {
		staff := fmt.Sprintf("staff-%d", i)
		_, err := svc.StartTrip(ctx, staff, gps(0, 0, t0))
		require.NoError(t, err)
		if i < 2 {
			_, err = svc.EndTrip(ctx, Ref{StaffID: staff})
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"staff-0", "staff-1"}, ended)

	clk.Advance(48 * time.Hour)
	assert.Equal(t, 2, svc.Prune(clk.Now().Add(-24*time.Hour)))

	active, err := svc.ActiveTrip("staff-2")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)
}

func TestTripDurationMinutes(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newTestService(clk)
	trip, err := svc.StartTrip(context.Background(), "staff-1", gps(0, 0, t0))
	require.NoError(t, err)

	clk.Advance(17 * time.Minute)
	d, err := svc.TripDurationMinutes(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, d)
}
