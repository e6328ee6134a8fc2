package tracking

import (
	"context"
	"errors"
	"time"

	"backend-fieldops/internal/shared/geo"

	"github.com/sirupsen/logrus"
)

// ErrFeedDone tells a Feed that its trip is gone and it should stop.
var ErrFeedDone = errors.New("feed done")

// DefaultFeedInterval is how often the latest sample is re-pushed.
const DefaultFeedInterval = 15 * time.Second

// Feed merges the two sample producers of one staff session, a position
// watch and a fixed-interval re-push, into a single ordered call stream.
// Ingest is only ever called from the Run goroutine.
type Feed struct {
	Watch          <-chan Sample
	Interval       time.Duration
	DebounceMeters float64
	Ingest         func(ctx context.Context, s Sample) error
	Log            logrus.FieldLogger
}

// Run forwards samples until ctx is cancelled, the watch channel closes, or
// Ingest returns an error wrapping ErrFeedDone. Nothing is ingested after
// Run returns.
func (f *Feed) Run(ctx context.Context) error {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	debounce := f.DebounceMeters
	if debounce <= 0 {
		debounce = DefaultThresholds().DebounceMeters
	}
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest, forwarded Sample
	var hasLatest, hasForwarded bool

	forward := func(s Sample) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.Ingest(ctx, s)
		forwarded, hasForwarded = s, true
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrFeedDone) {
			return err
		}
		log.WithError(err).Warn("sample ingest failed")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-f.Watch:
			if !ok {
				return nil
			}
			latest, hasLatest = s, true
			if hasForwarded && movedMeters(forwarded, s) <= debounce {
				continue
			}
			if err := forward(s); err != nil {
				return err
			}
		case <-ticker.C:
			if !hasLatest {
				continue
			}
			if err := forward(latest); err != nil {
				return err
			}
		}
	}
}

func movedMeters(a, b Sample) float64 {
	return geo.HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude) * 1000
}
