package geo

import "math"

const (
	earthRadiusKm    = 6371.0
	earthRadiusMiles = 3959.0
	metersPerMile    = 1609.344
)

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return earthRadiusKm * centralAngle(lat1, lng1, lat2, lng2)
}

// HaversineMiles returns the great-circle distance between two points in statute miles.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	return earthRadiusMiles * centralAngle(lat1, lng1, lat2, lng2)
}

func centralAngle(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// MpsToMph converts meters per second to miles per hour.
func MpsToMph(mps float64) float64 {
	return mps * 3600 / metersPerMile
}

// ValidCoordinate reports whether lat/lng are finite and inside WGS84 bounds.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
