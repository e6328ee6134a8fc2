// Package ingest runs one sample feed per staff member so that samples from
// every producer reach the trip engine as a single ordered stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-fieldops/internal/tracking"
	"backend-fieldops/internal/trip"

	"github.com/sirupsen/logrus"
)

const watchBuffer = 32

type Ingester interface {
	IngestSample(ctx context.Context, ref trip.Ref, s tracking.Sample) (trip.IngestResult, error)
}

type Options struct {
	Interval       time.Duration
	DebounceMeters float64
	Log            logrus.FieldLogger
}

type session struct {
	cancel context.CancelFunc
	watch  chan tracking.Sample
}

type Manager struct {
	ingester Ingester
	opts     Options
	log      logrus.FieldLogger

	mu      sync.Mutex
	running map[string]*session // staffID -> feed
	closed  bool
	wg      sync.WaitGroup
}

func NewManager(ing Ingester, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Manager{
		ingester: ing,
		opts:     opts,
		log:      opts.Log,
		running:  make(map[string]*session),
	}
}

// Dispatch hands a sample to the staff member's feed, starting one if needed.
// It never blocks; false means the sample was dropped.
func (m *Manager) Dispatch(staffID string, s tracking.Sample) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	sess, ok := m.running[staffID]
	if !ok {
		sess = m.start(staffID)
	}
	m.mu.Unlock()

	select {
	case sess.watch <- s:
		return true
	default:
		m.log.WithField("staff_id", staffID).Warn("feed backlog full, dropping sample")
		return false
	}
}

// start must be called with m.mu held.
func (m *Manager) start(staffID string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel, watch: make(chan tracking.Sample, watchBuffer)}
	m.running[staffID] = sess
	m.wg.Add(1)

	log := m.log.WithField("staff_id", staffID)
	feed := &tracking.Feed{
		Watch:          sess.watch,
		Interval:       m.opts.Interval,
		DebounceMeters: m.opts.DebounceMeters,
		Log:            log,
		Ingest: func(ctx context.Context, s tracking.Sample) error {
			_, err := m.ingester.IngestSample(ctx, trip.Ref{StaffID: staffID}, s)
			if errors.Is(err, trip.ErrNotFound) || errors.Is(err, trip.ErrNotActive) {
				return fmt.Errorf("%w: %v", tracking.ErrFeedDone, err)
			}
			return err
		},
	}

	go func() {
		defer m.wg.Done()
		err := feed.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, tracking.ErrFeedDone) {
			log.WithError(err).Warn("feed stopped")
		}
		m.mu.Lock()
		if m.running[staffID] == sess {
			delete(m.running, staffID)
		}
		m.mu.Unlock()
		cancel()
	}()
	log.Debug("feed started")
	return sess
}

// Stop tears down the staff member's feed, if any.
func (m *Manager) Stop(staffID string) {
	m.mu.Lock()
	sess, ok := m.running[staffID]
	if ok {
		delete(m.running, staffID)
	}
	m.mu.Unlock()
	if ok {
		sess.cancel()
	}
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Close stops every feed and waits for them to return.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, sess := range m.running {
		sess.cancel()
		delete(m.running, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
