// Package handler implements the HTTP API of the trail engine.
// All handlers are methods on Server. Methods are split into files by
// resource (health.go, trail.go, export.go, vehicle.go) but share the same
// Server struct so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/service"
)

// TrailServicer defines the trail lifecycle operations the handlers depend
// on. Defining the interface here, in the consumer package, lets handler
// tests inject a mock without touching the database or service layer.
type TrailServicer interface {
	Open(ctx context.Context, req service.OpenRequest) (domain.Trail, error)
	Append(ctx context.Context, trailID uuid.UUID, points []domain.Point) (int64, error)
	EvaluateFreshness(ctx context.Context, trailID uuid.UUID, timeout time.Duration) (domain.Trail, error)
	RequestClose(ctx context.Context, trailID uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error)
	Get(ctx context.Context, trailID uuid.UUID) (domain.Trail, error)
	List(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error)
	Points(ctx context.Context, trailID uuid.UUID) ([]domain.Point, error)
	Preview(ctx context.Context, trailID uuid.UUID) (service.Preview, error)
	Delete(ctx context.Context, trailID uuid.UUID) error
}

// FreshnessChecker is the read-only staleness check.
type FreshnessChecker interface {
	IsFresh(ctx context.Context, trailID uuid.UUID, timeout time.Duration) (domain.Freshness, error)
}

// Reconciler repairs duplicate and stale open trails.
type Reconciler interface {
	CheckOpenTrails(ctx context.Context, vehicleID string, timeout *time.Duration) (domain.OpenTrailCheck, error)
	ReconcileOperation(ctx context.Context, operationID, excludeVehicleID string, timeout *time.Duration) (domain.OperationReconcile, error)
}

// MetricsComputer re-runs the deferred metrics step on demand.
type MetricsComputer interface {
	Compute(ctx context.Context, trailID uuid.UUID) (domain.MetricsResult, error)
}

// Server holds the dependencies shared by every handler.
type Server struct {
	trails       TrailServicer
	freshness    FreshnessChecker
	reconciler   Reconciler
	metrics      MetricsComputer
	staleTimeout time.Duration
	logger       *slog.Logger
}

// Deps groups the collaborators passed to NewServer.
type Deps struct {
	Trails     TrailServicer
	Freshness  FreshnessChecker
	Reconciler Reconciler
	Metrics    MetricsComputer
	// StaleTimeout is used when a request does not pass timeout_minutes.
	StaleTimeout time.Duration
	Logger       *slog.Logger
}

// NewServer constructs the Server. A nil logger uses slog.Default().
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		trails:       d.Trails,
		freshness:    d.Freshness,
		reconciler:   d.Reconciler,
		metrics:      d.Metrics,
		staleTimeout: d.StaleTimeout,
		logger:       d.Logger,
	}
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Route("/trails", func(r chi.Router) {
		r.Post("/", s.CreateTrail)
		r.Get("/", s.ListTrails)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetTrail)
			r.Delete("/", s.DeleteTrail)
			r.Get("/points", s.ListPoints)
			r.Post("/points", s.AppendPoints)
			r.Post("/close", s.CloseTrail)
			r.Get("/freshness", s.GetFreshness)
			r.Post("/freshness", s.EvaluateFreshness)
			r.Post("/metrics", s.ComputeMetrics)
			r.Get("/preview", s.GetPreview)
			r.Get("/export", s.ExportTrail)
		})
	})

	r.Get("/vehicles/{vehicleID}/open-trail", s.CheckOpenTrails)
	r.Post("/operations/{operationID}/reconcile", s.ReconcileOperation)
}

// Handler returns a router with every endpoint registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}
