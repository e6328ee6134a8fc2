package tracking

import "backend-fieldops/internal/shared/geo"

// Accumulator sums counted hops in the order they are added.
type Accumulator struct {
	th    Thresholds
	total float64
}

func NewAccumulator(th Thresholds) *Accumulator {
	return &Accumulator{th: th.withDefaults()}
}

// Add returns the miles contributed by the hop prev -> next and adds them to
// the running total. Idle hops contribute nothing.
func (a *Accumulator) Add(prev, next RoutePoint) float64 {
	if classify(prev, next, a.th) != MotionMoving {
		return 0
	}
	inc := geo.HaversineMiles(prev.Latitude, prev.Longitude, next.Latitude, next.Longitude)
	a.total += inc
	return inc
}

func (a *Accumulator) Total() float64 { return a.total }

// RouteDistance replays the accumulator over a full route.
func RouteDistance(route []RoutePoint, th Thresholds) float64 {
	acc := NewAccumulator(th)
	for i := 1; i < len(route); i++ {
		acc.Add(route[i-1], route[i])
	}
	return acc.Total()
}
