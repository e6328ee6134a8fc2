// Package persist runs store writes off the request path. The engine's
// in-memory state is authoritative; a failed write is logged and counted
// but never reported back to the state machines.
package persist

import (
	"context"
	"sync"
	"time"

	"backend-fieldops/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Job is one unit of store work.
type Job struct {
	Kind string
	ID   string
	Run  func(ctx context.Context) error
}

type Options struct {
	QueueSize      int
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	Log            logrus.FieldLogger
	Metrics        *metrics.Collector
}

// Writer executes jobs one at a time in submission order.
type Writer struct {
	jobs    chan Job
	opts    Options
	log     logrus.FieldLogger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWriter(opts Options) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		jobs:    make(chan Job, opts.QueueSize),
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues a job without blocking. It returns false when the job was
// dropped because the queue is full or the writer is closed.
func (w *Writer) Submit(job Job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.WithFields(logrus.Fields{"kind": job.Kind, "id": job.ID}).Warn("persist writer closed, dropping job")
		return false
	}
	select {
	case w.jobs <- job:
		w.metrics.QueueDepth(len(w.jobs))
		return true
	default:
		w.log.WithFields(logrus.Fields{"kind": job.Kind, "id": job.ID}).Error("persist queue full, dropping job")
		w.metrics.PersistFailed(job.Kind)
		return false
	}
}

// Close stops accepting jobs and waits for the queue to drain. If ctx ends
// first, in-flight work is cancelled and ctx.Err() is returned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	defer w.cancel()
	for job := range w.jobs {
		w.metrics.QueueDepth(len(w.jobs))
		w.run(job)
	}
}

func (w *Writer) run(job Job) {
	backoff := w.opts.Backoff
	var err error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(w.ctx, w.opts.AttemptTimeout)
		err = job.Run(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt == w.opts.MaxAttempts || w.ctx.Err() != nil {
			break
		}
		w.log.WithError(err).WithFields(logrus.Fields{"kind": job.Kind, "id": job.ID, "attempt": attempt}).Warn("persist attempt failed, retrying")
		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
		}
		backoff *= 2
	}
	w.log.WithError(err).WithFields(logrus.Fields{"kind": job.Kind, "id": job.ID}).Error("persist job failed")
	w.metrics.PersistFailed(job.Kind)
}
