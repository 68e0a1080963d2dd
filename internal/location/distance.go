package location

import (
	"math"

	"github.com/2beens/stridewatch/internal/workout"
)

const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle (haversine) distance between two samples.
func DistanceMeters(a, b workout.LocationSample) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	deltaPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}
