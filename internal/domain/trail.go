// Package domain contains the core data types for the trail engine.
// This package has zero external dependencies beyond uuid and is imported by
// every other internal package (geometry, repo, service, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrailState is the lifecycle state of a trail.
//
//	open → stale → closing → closed
//	  └──────────────┴──→ discarded (fewer than MinClosurePoints valid points)
//
// A discarded trail is deleted, so discarded is never stored.
type TrailState string

const (
	TrailOpen    TrailState = "open"
	TrailStale   TrailState = "stale"
	TrailClosing TrailState = "closing"
	TrailClosed  TrailState = "closed"
)

// Closable reports whether a close request may start from this state.
func (s TrailState) Closable() bool {
	return s == TrailOpen || s == TrailStale
}

// MetricsMode selects which geometry the spatial-metrics step uses.
type MetricsMode string

const (
	// MetricsDetailed computes distance and area from the time-stamped detailed path.
	MetricsDetailed MetricsMode = "detailed"
	// MetricsSimplified computes both from the simplified path. It trades precision
	// for guaranteed completion on very large trails.
	MetricsSimplified MetricsMode = "simplified"
)

// Valid reports whether m is a known metrics mode.
func (m MetricsMode) Valid() bool {
	return m == MetricsDetailed || m == MetricsSimplified
}

// MinClosurePoints is the minimum number of valid points a trail needs to be
// closed. Trails with fewer are discarded at closure time.
const MinClosurePoints = 3

// Style applied when the caller leaves it unset.
const (
	DefaultTrailColor = "#FF6600"
	DefaultTrailWidth = 10.0
)

// TrailStyle is the display style chosen when a trail is opened.
type TrailStyle struct {
	Color string  `json:"color"` // "#RRGGBB"
	Width float64 `json:"width"` // working width in meters; area is the path buffered by Width/2
}

// Trail represents one continuous vehicle work session.
// EndTime, Path and DetailedPath are nil/empty while the trail is open and are
// always set together by fast closure. Metrics stay nil until the deferred
// metrics step succeeds; nil metrics on a closed trail mean "pending".
type Trail struct {
	ID          uuid.UUID   `json:"id"`
	VehicleID   string      `json:"vehicle_id"`
	OperationID string      `json:"operation_id"`
	State       TrailState  `json:"state"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Style       TrailStyle  `json:"style"`
	MetricsMode MetricsMode `json:"metrics_mode"`

	Metrics *Metrics `json:"metrics,omitempty"`

	Path         []Point `json:"-"` // simplified, timestamps zero
	DetailedPath []Point `json:"-"` // every valid point with its timestamp

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the trail has not been closed yet.
func (t Trail) IsOpen() bool {
	return t.EndTime == nil
}

// Metrics is the output of the spatial-metrics service for a closed trail.
type Metrics struct {
	DistanceMeters    float64 `json:"distance_meters"`
	AreaHectares      float64 `json:"area_hectares"`
	OverlapHectares   float64 `json:"overlap_hectares"`
	OverlapPercentage float64 `json:"overlap_percentage"`
}

// TrailFilter narrows a trail listing. Empty fields are not applied.
type TrailFilter struct {
	VehicleID   string
	OperationID string
	State       TrailState
}

// Scope identifies a (vehicle, operation) pair that may hold open trails.
type Scope struct {
	VehicleID   string
	OperationID string
}
