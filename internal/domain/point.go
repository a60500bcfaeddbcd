package domain

import (
	"math"
	"time"
)

// Point is a single timestamped GPS sample. Timestamp is milliseconds since
// the Unix epoch. Points are immutable once recorded.
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Timestamp int64   `json:"timestamp"`
}

// Valid reports whether both coordinates are finite numbers.
// Only valid points take part in closure geometry.
func (p Point) Valid() bool {
	return isFinite(p.Longitude) && isFinite(p.Latitude)
}

// InRange reports whether the point is valid and lies inside the
// longitude/latitude bounds of EPSG:4326.
func (p Point) InRange() bool {
	return p.Valid() &&
		p.Longitude >= -180 && p.Longitude <= 180 &&
		p.Latitude >= -90 && p.Latitude <= 90
}

// Time returns the sample timestamp as a UTC time.Time.
func (p Point) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// ValidPoints returns the points whose coordinates are finite, preserving order.
func ValidPoints(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
