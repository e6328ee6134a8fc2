package visit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"backend-fieldops/internal/metrics"
	"backend-fieldops/internal/persist"
	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/shared/keylock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TripDurations is the read-only view of the trip engine used for drive-time
// attribution.
type TripDurations interface {
	TripDurationMinutes(tripID string) (int, error)
}

type Sink interface {
	SaveVisit(ctx context.Context, v Visit) error
}

type Publisher interface {
	PublishEvent(kind, staffID string, payload any) error
}

type Jobs interface {
	Submit(job persist.Job) bool
}

type Options struct {
	Clock   clock.Clock
	Trips   TripDurations
	Sink    Sink
	Jobs    Jobs
	Events  Publisher
	Log     logrus.FieldLogger
	Metrics *metrics.Collector
}

type entry struct {
	mu    sync.RWMutex
	visit Visit
}

type Service struct {
	clock   clock.Clock
	trips   TripDurations
	sink    Sink
	jobs    Jobs
	events  Publisher
	log     logrus.FieldLogger
	metrics *metrics.Collector

	locks *keylock.Map

	mu     sync.RWMutex
	visits map[string]*entry
	active map[string]string // staffID -> visitID
}

func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Service{
		clock:   opts.Clock,
		trips:   opts.Trips,
		sink:    opts.Sink,
		jobs:    opts.Jobs,
		events:  opts.Events,
		log:     opts.Log,
		metrics: opts.Metrics,
		locks:   keylock.New(),
		visits:  map[string]*entry{},
		active:  map[string]string{},
	}
}

// StartVisit opens a visit for the staff member. No trip needs to exist; when
// TripID is given without a drive time, the trip's duration is used.
func (s *Service) StartVisit(ctx context.Context, req StartRequest) (Visit, error) {
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return Visit{}, ErrStaffRequired
	}
	req.VisitType = Type(strings.TrimSpace(string(req.VisitType)))
	if req.VisitType == "" {
		req.VisitType = TypeRoutine
	}
	if !req.VisitType.Known() {
		s.log.WithFields(logrus.Fields{"staff_id": staffID, "visit_type": req.VisitType}).Debug("unlisted visit type")
	}

	unlock := s.locks.Lock(staffID)
	defer unlock()

	s.mu.RLock()
	_, busy := s.active[staffID]
	s.mu.RUnlock()
	if busy {
		return Visit{}, ErrAlreadyInProgress
	}

	now, err := clock.Read(s.clock)
	if err != nil {
		return Visit{}, err
	}

	v := Visit{
		ID:               uuid.NewString(),
		StaffID:          staffID,
		TripID:           strings.TrimSpace(req.TripID),
		PatientName:      strings.TrimSpace(req.PatientName),
		PatientAddress:   strings.TrimSpace(req.PatientAddress),
		VisitType:        req.VisitType,
		Status:           StatusInProgress,
		StartedAt:        now,
		DriveTimeMinutes: clonePtr(req.DriveTimeMinutes),
	}
	if v.DriveTimeMinutes == nil && v.TripID != "" {
		v.DriveTimeMinutes = s.driveTime(v.TripID)
	}

	s.mu.Lock()
	s.visits[v.ID] = &entry{visit: v}
	s.active[staffID] = v.ID
	activeCount := len(s.active)
	s.mu.Unlock()

	out := v.clone()
	s.metrics.VisitStarted(activeCount)
	s.persist(out)
	s.publish("visit.started", out)
	s.log.WithFields(logrus.Fields{"visit_id": v.ID, "staff_id": staffID, "trip_id": v.TripID}).Info("visit started")
	return out, nil
}

// UpdateNotes replaces the notes of an in-progress visit.
func (s *Service) UpdateNotes(ctx context.Context, visitID, notes string) (Visit, error) {
	e, unlock, err := s.lockVisit(visitID)
	if err != nil {
		return Visit{}, err
	}
	defer unlock()

	e.mu.Lock()
	if e.visit.Status != StatusInProgress {
		e.mu.Unlock()
		return Visit{}, ErrNotInProgress
	}
	e.visit.Notes = &notes
	out := e.visit.clone()
	e.mu.Unlock()

	s.persist(out)
	return out, nil
}

// CompleteVisit seals the visit and records its duration in whole minutes.
func (s *Service) CompleteVisit(ctx context.Context, visitID string, notes *string) (Visit, error) {
	out, err := s.finish(visitID, StatusCompleted, func(v *Visit, now time.Time) {
		minutes := durationMinutes(v.StartedAt, now)
		v.DurationMinutes = &minutes
		if notes != nil {
			v.Notes = clonePtr(notes)
		}
	})
	if err != nil {
		return Visit{}, err
	}
	s.publish("visit.completed", out)
	s.log.WithFields(logrus.Fields{"visit_id": out.ID, "staff_id": out.StaffID, "duration_minutes": *out.DurationMinutes}).Info("visit completed")
	return out, nil
}

// CancelVisit seals the visit without a duration. The reason is kept as given.
func (s *Service) CancelVisit(ctx context.Context, visitID, reason string) (Visit, error) {
	if strings.TrimSpace(reason) == "" {
		return Visit{}, ErrReasonRequired
	}
	out, err := s.finish(visitID, StatusCancelled, func(v *Visit, _ time.Time) {
		v.CancelReason = &reason
	})
	if err != nil {
		return Visit{}, err
	}
	s.publish("visit.cancelled", out)
	s.log.WithFields(logrus.Fields{"visit_id": out.ID, "staff_id": out.StaffID}).Info("visit cancelled")
	return out, nil
}

func (s *Service) finish(visitID string, status Status, apply func(v *Visit, now time.Time)) (Visit, error) {
	e, unlock, err := s.lockVisit(visitID)
	if err != nil {
		return Visit{}, err
	}
	defer unlock()

	now, err := clock.Read(s.clock)
	if err != nil {
		return Visit{}, err
	}

	e.mu.Lock()
	if e.visit.Status != StatusInProgress {
		e.mu.Unlock()
		return Visit{}, ErrNotInProgress
	}
	apply(&e.visit, now)
	e.visit.EndedAt = &now
	e.visit.Status = status
	out := e.visit.clone()
	e.mu.Unlock()

	s.mu.Lock()
	if s.active[out.StaffID] == out.ID {
		delete(s.active, out.StaffID)
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	s.metrics.VisitFinished(string(status), activeCount)
	s.persist(out)
	return out, nil
}

func (s *Service) GetVisit(visitID string) (Visit, error) {
	e := s.lookup(visitID)
	if e == nil {
		return Visit{}, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.visit.clone(), nil
}

func (s *Service) ActiveVisit(staffID string) (Visit, error) {
	s.mu.RLock()
	id, ok := s.active[staffID]
	s.mu.RUnlock()
	if !ok {
		return Visit{}, ErrNotFound
	}
	return s.GetVisit(id)
}

// Prune drops finished visits that ended before cutoff.
func (s *Service) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.visits {
		e.mu.RLock()
		stale := e.visit.EndedAt != nil && e.visit.EndedAt.Before(cutoff)
		e.mu.RUnlock()
		if stale {
			delete(s.visits, id)
			removed++
		}
	}
	return removed
}

func (s *Service) lookup(visitID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visits[visitID]
}

// lockVisit takes the owning staff member's lock. StaffID never changes after
// creation so it is safe to read before locking.
func (s *Service) lockVisit(visitID string) (*entry, func(), error) {
	e := s.lookup(visitID)
	if e == nil {
		return nil, nil, ErrNotFound
	}
	e.mu.RLock()
	staffID := e.visit.StaffID
	e.mu.RUnlock()
	return e, s.locks.Lock(staffID), nil
}

func (s *Service) driveTime(tripID string) *int {
	if s.trips == nil {
		return nil
	}
	minutes, err := s.trips.TripDurationMinutes(tripID)
	if err != nil {
		s.log.WithError(err).WithField("trip_id", tripID).Debug("drive time lookup failed")
		return nil
	}
	return &minutes
}

func (s *Service) persist(v Visit) {
	if s.sink == nil || s.jobs == nil {
		return
	}
	s.jobs.Submit(persist.Job{Kind: "visit", ID: v.ID, Run: func(ctx context.Context) error {
		return s.sink.SaveVisit(ctx, v)
	}})
}

func (s *Service) publish(kind string, v Visit) {
	if s.events == nil || s.jobs == nil {
		return
	}
	s.jobs.Submit(persist.Job{Kind: "event", ID: kind, Run: func(context.Context) error {
		return s.events.PublishEvent(kind, v.StaffID, v)
	}})
}

func durationMinutes(start, end time.Time) int {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Round(elapsed.Minutes()))
}
