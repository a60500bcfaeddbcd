package geometry

import (
	"github.com/twpayne/go-polyline"

	"github.com/pkordes/trail-engine/internal/domain"
)

// EncodePolyline encodes points with Google's encoded polyline algorithm
// (precision 1e-5). Timestamps are dropped.
func EncodePolyline(points []domain.Point) string {
	if len(points) == 0 {
		return ""
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}
