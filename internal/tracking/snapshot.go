package tracking

import (
	"math"
	"time"
)

// Snapshot derives live trip metrics from the route. Samples without a
// recorded speed are left out of the speed figures rather than counted as 0.
func Snapshot(route []RoutePoint, startedAt, now time.Time, th Thresholds) Metrics {
	m := Metrics{DistanceMiles: RouteDistance(route, th)}

	var sum float64
	var n int
	for _, p := range route {
		if p.SpeedMph == nil || *p.SpeedMph <= 0 {
			continue
		}
		sum += *p.SpeedMph
		n++
		if *p.SpeedMph > m.MaxSpeedMph {
			m.MaxSpeedMph = *p.SpeedMph
		}
	}
	if n > 0 {
		m.AvgSpeedMph = sum / float64(n)
	}

	if elapsed := now.Sub(startedAt); elapsed > 0 {
		m.DurationMinutes = int(math.Round(elapsed.Minutes()))
	}
	return m
}
