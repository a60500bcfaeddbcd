// Package spatial computes trail metrics with PostGIS. Buffering, polygon
// union and geodesic measurement all happen in the database; this package
// only shapes the query and the result.
package spatial

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pkordes/trail-engine/internal/domain"
)

const squareMetersPerHectare = 10_000

// querier is the subset of *pgxpool.Pool used here.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service computes distance, covered area and overlap for closed trails.
type Service struct {
	db querier
}

// NewService returns a Service reading from db.
func NewService(db querier) *Service {
	return &Service{db: db}
}

// metricsQuery measures one closed trail.
//
// The footprint is the trail line buffered by half its working width on the
// geography type, so distances are meters on the spheroid. Overlap is the
// part of that footprint already covered by earlier closed trails of the
// same operation. Earlier trails contribute their simplified path.
const metricsQuery = `
	WITH target AS (
		SELECT id, operation_id, start_time, trail_width,
		       ST_Force2D(CASE WHEN @mode = 'simplified' THEN path ELSE detailed_path END) AS geom
		FROM trails
		WHERE id = @id AND state = 'closed'
	), footprint AS (
		SELECT t.id, t.geom, ST_Buffer(t.geom::geography, t.trail_width / 2) AS area
		FROM target t
	), covered AS (
		SELECT ST_Union(ST_Buffer(p.path::geography, p.trail_width / 2)::geometry) AS geom
		FROM trails p
		JOIN target t ON p.operation_id = t.operation_id
		WHERE p.id <> t.id
		  AND p.state = 'closed'
		  AND p.path IS NOT NULL
		  AND p.start_time < t.start_time
	)
	SELECT ST_Length(f.geom::geography),
	       ST_Area(f.area),
	       COALESCE(ST_Area(ST_Intersection(f.area::geometry, c.geom)::geography), 0)
	FROM footprint f
	CROSS JOIN covered c`

// Compute measures the trail. mode selects which stored line feeds the
// measurement; simplified mode uses path for both distance and area.
// Returns domain.ErrNotFound when no closed trail has that id.
func (s *Service) Compute(ctx context.Context, trailID uuid.UUID, mode domain.MetricsMode) (domain.Metrics, error) {
	if !mode.Valid() {
		mode = domain.MetricsDetailed
	}

	var length, area, overlap float64
	err := s.db.QueryRow(ctx, metricsQuery, pgx.NamedArgs{"id": trailID, "mode": string(mode)}).
		Scan(&length, &area, &overlap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Metrics{}, fmt.Errorf("spatial.Service.Compute: %w", domain.ErrNotFound)
		}
		return domain.Metrics{}, fmt.Errorf("spatial.Service.Compute: %w", err)
	}

	return newMetrics(length, area, overlap), nil
}

// newMetrics converts square meters to hectares and derives the overlap
// percentage. A zero-area footprint has zero overlap.
func newMetrics(lengthMeters, areaSqM, overlapSqM float64) domain.Metrics {
	m := domain.Metrics{
		DistanceMeters:  lengthMeters,
		AreaHectares:    areaSqM / squareMetersPerHectare,
		OverlapHectares: overlapSqM / squareMetersPerHectare,
	}
	if areaSqM > 0 {
		m.OverlapPercentage = min(overlapSqM/areaSqM*100, 100)
	}
	return m
}
