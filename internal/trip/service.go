package trip

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"backend-fieldops/internal/metrics"
	"backend-fieldops/internal/persist"
	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/shared/keylock"
	"backend-fieldops/internal/tracking"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink mirrors trips into durable storage.
type Sink interface {
	SaveTrip(ctx context.Context, t Trip) error
	AppendRoutePoint(ctx context.Context, tripID string, seq int, p tracking.RoutePoint) error
}

// RateLookup returns the per-mile reimbursement rate for a staff member.
type RateLookup interface {
	CostPerMile(ctx context.Context, staffID string) (float64, error)
}

// Publisher emits lifecycle events.
type Publisher interface {
	PublishEvent(kind, staffID string, payload any) error
}

// Broadcaster fans live updates out to stream subscribers.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

// Jobs queues work that must not block the caller.
type Jobs interface {
	Submit(job persist.Job) bool
}

type Options struct {
	Thresholds         tracking.Thresholds
	Clock              clock.Clock
	Rates              RateLookup
	DefaultCostPerMile float64
	Sink               Sink
	Jobs               Jobs
	Events             Publisher
	Live               Broadcaster
	Log                logrus.FieldLogger
	Metrics            *metrics.Collector
}

type entry struct {
	staffID string
	mu      sync.RWMutex
	trip    Trip
}

// Service owns every trip in memory. Mutations for one staff member are
// serialized by a per-staff lock; different staff members never wait on
// each other beyond the registry map lookups.
type Service struct {
	filter      tracking.Filter
	clock       clock.Clock
	rates       RateLookup
	defaultRate float64
	sink        Sink
	jobs        Jobs
	events      Publisher
	live        Broadcaster
	log         logrus.FieldLogger
	metrics     *metrics.Collector

	locks *keylock.Map

	mu     sync.RWMutex
	trips  map[string]*entry
	active map[string]string // staffID -> tripID

	hooksMu sync.RWMutex
	onEnded []func(Trip)
}

func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.DefaultCostPerMile <= 0 {
		opts.DefaultCostPerMile = tracking.DefaultCostPerMile
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Service{
		filter:      tracking.NewFilter(opts.Thresholds),
		clock:       opts.Clock,
		rates:       opts.Rates,
		defaultRate: opts.DefaultCostPerMile,
		sink:        opts.Sink,
		jobs:        opts.Jobs,
		events:      opts.Events,
		live:        opts.Live,
		log:         opts.Log,
		metrics:     opts.Metrics,
		locks:       keylock.New(),
		trips:       map[string]*entry{},
		active:      map[string]string{},
	}
}

// OnEnded registers fn to run after a trip has been closed.
func (s *Service) OnEnded(fn func(Trip)) {
	s.hooksMu.Lock()
	s.onEnded = append(s.onEnded, fn)
	s.hooksMu.Unlock()
}

// StartTrip opens a driving session seeded with the initial sample, which
// must carry the device's capture time. Poor accuracy does not block the
// start; it is reported via DegradedAccuracy.
func (s *Service) StartTrip(ctx context.Context, staffID string, sample tracking.Sample) (Trip, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return Trip{}, ErrStaffRequired
	}
	rate := s.costPerMile(ctx, staffID)

	unlock := s.locks.Lock(staffID)
	defer unlock()

	s.mu.RLock()
	_, busy := s.active[staffID]
	s.mu.RUnlock()
	if busy {
		return Trip{}, ErrAlreadyActive
	}

	now, err := clock.Read(s.clock)
	if err != nil {
		return Trip{}, err
	}
	d := s.filter.Accept(sample, nil)
	if d.Reason == tracking.ReasonInvalid {
		return Trip{}, ErrInvalidSample
	}

	t := Trip{
		ID:               uuid.NewString(),
		StaffID:          staffID,
		Status:           StatusActive,
		StartedAt:        now,
		Route:            []tracking.RoutePoint{d.Point},
		CostPerMileUSD:   rate,
		DegradedAccuracy: s.filter.Thresholds().Degraded(sample.AccuracyMeters),
	}

	s.mu.Lock()
	s.trips[t.ID] = &entry{staffID: staffID, trip: t}
	s.active[staffID] = t.ID
	activeCount := len(s.active)
	s.mu.Unlock()

	out := t.clone()
	s.metrics.TripStarted(activeCount)
	s.persistTrip(out)
	s.persistPoint(t.ID, 0, d.Point)
	s.publish("trip.started", staffID, out)
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "staff_id": staffID, "degraded_accuracy": t.DegradedAccuracy}).Info("trip started")
	return out, nil
}

// IngestSample runs one sample through the filter and, if kept, appends it
// to the route. Low-accuracy samples are not errors: the result carries
// RequiresDeviceGPS and the trip is left untouched.
func (s *Service) IngestSample(ctx context.Context, ref Ref, sample tracking.Sample) (IngestResult, error) {
	began := time.Now()

	e, unlock, err := s.lockTrip(ref)
	if err != nil {
		return IngestResult{}, err
	}
	defer unlock()

	now, err := clock.Read(s.clock)
	if err != nil {
		return IngestResult{}, err
	}

	e.mu.Lock()
	if e.trip.Status != StatusActive {
		e.mu.Unlock()
		return IngestResult{TripID: e.trip.ID}, ErrNotActive
	}
	var prev *tracking.RoutePoint
	if n := len(e.trip.Route); n > 0 {
		p := e.trip.Route[n-1]
		prev = &p
	}
	d := s.filter.Accept(sample, prev)
	res := IngestResult{TripID: e.trip.ID, Accepted: d.Keep, Reason: d.Reason, Quality: d.Quality}
	seq := -1
	if d.Keep {
		e.trip.Route = append(e.trip.Route, d.Point)
		seq = len(e.trip.Route) - 1
		res.Motion = d.Motion
	}
	res.Metrics = tracking.Snapshot(e.trip.Route, e.trip.StartedAt, now, s.filter.Thresholds())
	e.mu.Unlock()

	s.metrics.SampleSeen(string(d.Reason), time.Since(began))

	switch d.Reason {
	case tracking.ReasonInvalid:
		return res, ErrInvalidSample
	case tracking.ReasonLowAccuracy:
		res.RequiresDeviceGPS = true
	}
	if seq >= 0 {
		s.persistPoint(res.TripID, seq, d.Point)
		s.broadcast(LiveUpdate{TripID: res.TripID, StaffID: e.staffID, Point: d.Point, Metrics: res.Metrics})
	}
	return res, nil
}

// EndTrip freezes distance and cost from the final snapshot. A trip can be
// ended exactly once.
func (s *Service) EndTrip(ctx context.Context, ref Ref) (Summary, error) {
	closed, summary, activeCount, err := s.closeTrip(ref)
	if err != nil {
		return Summary{}, err
	}

	s.metrics.TripEnded(activeCount, summary.DistanceMiles)
	s.persistTrip(closed)
	s.publish("trip.ended", closed.StaffID, summary)
	s.log.WithFields(logrus.Fields{
		"trip_id":        closed.ID,
		"staff_id":       closed.StaffID,
		"distance_miles": summary.DistanceMiles,
		"cost_usd":       tracking.RoundCurrency(summary.CostUSD),
	}).Info("trip ended")

	s.hooksMu.RLock()
	hooks := append([]func(Trip){}, s.onEnded...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(closed)
	}
	return summary, nil
}

func (s *Service) closeTrip(ref Ref) (Trip, Summary, int, error) {
	e, unlock, err := s.lockTrip(ref)
	if err != nil {
		return Trip{}, Summary{}, 0, err
	}
	defer unlock()

	now, err := clock.Read(s.clock)
	if err != nil {
		return Trip{}, Summary{}, 0, err
	}

	e.mu.Lock()
	if e.trip.Status != StatusActive {
		e.mu.Unlock()
		return Trip{}, Summary{}, 0, ErrNotActive
	}
	m := tracking.Snapshot(e.trip.Route, e.trip.StartedAt, now, s.filter.Thresholds())
	e.trip.TotalDistanceMiles = m.DistanceMiles
	e.trip.TotalCostUSD = tracking.Cost(m.DistanceMiles, e.trip.CostPerMileUSD)
	e.trip.EndedAt = &now
	e.trip.Status = StatusEnded
	closed := e.trip.clone()
	e.mu.Unlock()

	s.mu.Lock()
	if s.active[e.staffID] == closed.ID {
		delete(s.active, e.staffID)
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	return closed, Summary{
		TripID:          closed.ID,
		StaffID:         closed.StaffID,
		DistanceMiles:   closed.TotalDistanceMiles,
		CostUSD:         closed.TotalCostUSD,
		DurationMinutes: m.DurationMinutes,
		EndedAt:         now,
	}, activeCount, nil
}

// ResolveTripID maps a trip id or staff id to the canonical trip id. A trip
// id that is unknown falls back to the staff member's active trip.
func (s *Service) ResolveTripID(ref Ref) (string, error) {
	e, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	return e.trip.ID, nil
}

// Owner returns the staff member a ref resolves to.
func (s *Service) Owner(ref Ref) (string, error) {
	e, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	return e.staffID, nil
}

// LiveMetrics recomputes the snapshot from the route. Ended trips report
// their metrics as of EndedAt.
func (s *Service) LiveMetrics(tripID string) (tracking.Metrics, error) {
	e := s.lookup(tripID)
	if e == nil {
		return tracking.Metrics{}, ErrNotFound
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	now := time.Time{}
	if e.trip.EndedAt != nil {
		now = *e.trip.EndedAt
	} else {
		var err error
		if now, err = clock.Read(s.clock); err != nil {
			return tracking.Metrics{}, err
		}
	}
	return tracking.Snapshot(e.trip.Route, e.trip.StartedAt, now, s.filter.Thresholds()), nil
}

// TripDurationMinutes reports how long a trip ran, or has run so far.
func (s *Service) TripDurationMinutes(tripID string) (int, error) {
	m, err := s.LiveMetrics(tripID)
	if err != nil {
		return 0, err
	}
	return m.DurationMinutes, nil
}

func (s *Service) GetTrip(tripID string) (Trip, error) {
	e := s.lookup(tripID)
	if e == nil {
		return Trip{}, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trip.clone(), nil
}

func (s *Service) ActiveTrip(staffID string) (Trip, error) {
	s.mu.RLock()
	id, ok := s.active[staffID]
	s.mu.RUnlock()
	if !ok {
		return Trip{}, ErrNotFound
	}
	return s.GetTrip(id)
}

// Prune drops ended trips that closed before cutoff and returns how many
// were removed. Active trips are never pruned.
func (s *Service) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.trips {
		e.mu.RLock()
		stale := e.trip.EndedAt != nil && e.trip.EndedAt.Before(cutoff)
		e.mu.RUnlock()
		if stale {
			delete(s.trips, id)
			removed++
		}
	}
	return removed
}

func (s *Service) lookup(tripID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trips[tripID]
}

func (s *Service) resolve(ref Ref) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref.TripID != "" {
		if e, ok := s.trips[ref.TripID]; ok {
			return e, nil
		}
	}
	if ref.StaffID != "" {
		if id, ok := s.active[ref.StaffID]; ok {
			return s.trips[id], nil
		}
	}
	return nil, ErrNotFound
}

// lockTrip resolves ref and takes the owning staff member's lock. When the
// trip was addressed by staff id it is resolved again under the lock, since
// the active trip may have changed while waiting.
func (s *Service) lockTrip(ref Ref) (*entry, func(), error) {
	e, err := s.resolve(ref)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(e.staffID)
	if ref.TripID == "" {
		again, err := s.resolve(ref)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		e = again
	}
	return e, unlock, nil
}

func (s *Service) costPerMile(ctx context.Context, staffID string) float64 {
	if s.rates == nil {
		return s.defaultRate
	}
	rate, err := s.rates.CostPerMile(ctx, staffID)
	if err != nil {
		s.log.WithError(err).WithField("staff_id", staffID).Warn("rate lookup failed, using default")
		return s.defaultRate
	}
	if rate <= 0 {
		return s.defaultRate
	}
	return rate
}

func (s *Service) persistTrip(t Trip) {
	if s.sink == nil || s.jobs == nil {
		return
	}
	s.jobs.Submit(persist.Job{Kind: "trip", ID: t.ID, Run: func(ctx context.Context) error {
		return s.sink.SaveTrip(ctx, t)
	}})
}

func (s *Service) persistPoint(tripID string, seq int, p tracking.RoutePoint) {
	if s.sink == nil || s.jobs == nil {
		return
	}
	s.jobs.Submit(persist.Job{Kind: "route_point", ID: fmt.Sprintf("%s/%d", tripID, seq), Run: func(ctx context.Context) error {
		return s.sink.AppendRoutePoint(ctx, tripID, seq, p)
	}})
}

func (s *Service) publish(kind, staffID string, payload any) {
	if s.events == nil || s.jobs == nil {
		return
	}
	s.jobs.Submit(persist.Job{Kind: "event", ID: kind, Run: func(context.Context) error {
		return s.events.PublishEvent(kind, staffID, payload)
	}})
}

func (s *Service) broadcast(update LiveUpdate) {
	if s.live == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		s.log.WithError(err).WithField("trip_id", update.TripID).Warn("encode live update")
		return
	}
	s.live.Broadcast(update.TripID, payload)
}
