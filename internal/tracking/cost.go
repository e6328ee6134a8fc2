package tracking

import "math"

// DefaultCostPerMile is the reimbursement rate used when no staff rate is configured.
const DefaultCostPerMile = 0.67

// Cost is the reimbursable amount for a distance. No rounding happens here.
func Cost(distanceMiles, ratePerMile float64) float64 {
	return distanceMiles * ratePerMile
}

// RoundCurrency rounds to cents. Apply only when a value leaves the engine.
func RoundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}
