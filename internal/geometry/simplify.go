// Package geometry implements the path math used by trail closure:
// Douglas-Peucker simplification, great-circle length, encoded polylines and
// the codecs for the persisted line geometry.
//
// All planar math works directly in longitude/latitude degrees. No map
// projection is applied, so tolerances are expressed in degrees too.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pkordes/trail-engine/internal/domain"
)

// span is a half-processed [first, last] index range of the input.
type span struct {
	first, last int
}

// Simplify reduces points with the Douglas-Peucker algorithm. A span is
// collapsed to its endpoints when no interior point lies further than
// tolerance from the chord joining them; otherwise it is split at the
// farthest point and both halves are processed.
//
// Inputs of two points or fewer are returned unchanged. The result is a new
// slice; points is never modified. Timestamps are carried through untouched.
//
// The traversal uses an explicit stack, so path length is bounded only by
// memory, not by goroutine stack depth.
func Simplify(points []domain.Point, tolerance float64) []domain.Point {
	if len(points) <= 2 {
		return append([]domain.Point(nil), points...)
	}

	keep := make([]bool, len(points))
	keep[0] = true
	keep[len(points)-1] = true

	stack := []span{{first: 0, last: len(points) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.last-s.first < 2 {
			continue
		}

		idx, dmax := farthest(points, s.first, s.last)
		if dmax > tolerance {
			keep[idx] = true
			stack = append(stack, span{first: idx, last: s.last}, span{first: s.first, last: idx})
		}
	}

	out := make([]domain.Point, 0, len(points))
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}

// farthest returns the interior index in (first, last) with the greatest
// perpendicular distance to the first→last chord. Ties keep the lowest index.
func farthest(points []domain.Point, first, last int) (int, float64) {
	a, b := vec(points[first]), vec(points[last])
	idx, dmax := first, -1.0
	for i := first + 1; i < last; i++ {
		if d := PerpendicularDistance(vec(points[i]), a, b); d > dmax {
			idx, dmax = i, d
		}
	}
	return idx, dmax
}

// PerpendicularDistance is the planar distance from p to the infinite line
// through a and b. When a and b coincide it is the distance from p to a.
func PerpendicularDistance(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	ap := r2.Sub(p, a)
	if ab == (r2.Vec{}) {
		return r2.Norm(ap)
	}
	return math.Abs(r2.Cross(ab, ap)) / r2.Norm(ab)
}

func vec(p domain.Point) r2.Vec {
	return r2.Vec{X: p.Longitude, Y: p.Latitude}
}
