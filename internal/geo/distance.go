package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle surface distance in kilometers
// between two (lng, lat) points, via the haversine formula. Pure and
// symmetric; callers pass finite, in-range coordinates.
func DistanceKm(a, b orb.Point) float64 {
	dLat := toRad(b[1] - a[1])
	dLng := toRad(b[0] - a[0])
	lat1 := toRad(a[1])
	lat2 := toRad(b[1])

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
