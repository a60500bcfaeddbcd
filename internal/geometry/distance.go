package geometry

import (
	"math"

	"github.com/pkordes/trail-engine/internal/domain"
)

// earthRadiusMeters is the mean Earth radius used by HaversineMeters.
const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b domain.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dlat := lat2 - lat1
	dlon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// LengthMeters sums the great-circle distance along points.
// It is an estimate for open trails; closed trails get their distance from
// the spatial-metrics service.
func LengthMeters(points []domain.Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += HaversineMeters(points[i-1], points[i])
	}
	return total
}
