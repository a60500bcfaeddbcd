// Package service contains the trail lifecycle logic. Services validate
// inputs, enforce state transitions, and orchestrate repo calls. No SQL lives
// here; services depend on repo interfaces, not implementations.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/geometry"
	"github.com/pkordes/trail-engine/internal/repo"
)

// Closer runs fast closure for a claimed trail. Implemented by ClosurePipeline.
type Closer interface {
	Close(ctx context.Context, trail domain.Trail, opts domain.CloseOptions) (domain.ClosureResult, error)
}

// TrailService owns the lifecycle of individual trails:
//
//	open → stale → closing → closed | discarded
type TrailService struct {
	trails    repo.TrailRepo
	points    repo.PointRepo
	freshness *FreshnessEvaluator
	closer    Closer
	guard     *inflight
	lease     time.Duration
	policy    geometry.TolerancePolicy
	logger    *slog.Logger
	now       func() time.Time
}

// TrailServiceConfig carries the tunables TrailService needs.
type TrailServiceConfig struct {
	// ClosingLease is how long a trail may sit in closing before another
	// close request may reclaim it.
	ClosingLease time.Duration
	Tolerances   geometry.TolerancePolicy
}

// NewTrailService constructs a TrailService. A nil logger uses slog.Default().
func NewTrailService(trails repo.TrailRepo, points repo.PointRepo, freshness *FreshnessEvaluator, closer Closer, cfg TrailServiceConfig, logger *slog.Logger) *TrailService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrailService{
		trails:    trails,
		points:    points,
		freshness: freshness,
		closer:    closer,
		guard:     newInflight(cfg.ClosingLease),
		lease:     cfg.ClosingLease,
		policy:    cfg.Tolerances,
		logger:    logger,
		now:       time.Now,
	}
}

// OpenRequest is the input to Open.
type OpenRequest struct {
	VehicleID   string
	OperationID string
	Style       domain.TrailStyle
	MetricsMode domain.MetricsMode
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Open creates a new trail in the open state with start_time = now.
// Returns domain.ErrValidation for a missing id or a malformed style.
func (s *TrailService) Open(ctx context.Context, req OpenRequest) (domain.Trail, error) {
	trail, err := newTrail(req, s.now())
	if err != nil {
		return domain.Trail{}, err
	}
	created, err := s.trails.Create(ctx, trail)
	if err != nil {
		return domain.Trail{}, fmt.Errorf("service.TrailService.Open: %w", err)
	}
	s.logger.Info("trail opened", "trail_id", created.ID, "vehicle_id", created.VehicleID, "operation_id", created.OperationID)
	return created, nil
}

// newTrail validates req and applies defaults.
func newTrail(req OpenRequest, now time.Time) (domain.Trail, error) {
	vehicle := strings.TrimSpace(req.VehicleID)
	operation := strings.TrimSpace(req.OperationID)
	if vehicle == "" {
		return domain.Trail{}, fmt.Errorf("%w: vehicle_id is required", domain.ErrValidation)
	}
	if operation == "" {
		return domain.Trail{}, fmt.Errorf("%w: operation_id is required", domain.ErrValidation)
	}

	style := req.Style
	if style.Color == "" {
		style.Color = domain.DefaultTrailColor
	}
	if !colorPattern.MatchString(style.Color) {
		return domain.Trail{}, fmt.Errorf("%w: color must look like #RRGGBB", domain.ErrValidation)
	}
	if style.Width == 0 {
		style.Width = domain.DefaultTrailWidth
	}
	if style.Width < 0 {
		return domain.Trail{}, fmt.Errorf("%w: width must be positive", domain.ErrValidation)
	}

	mode := req.MetricsMode
	if mode == "" {
		mode = domain.MetricsDetailed
	}
	if !mode.Valid() {
		return domain.Trail{}, fmt.Errorf("%w: unknown metrics_mode %q", domain.ErrValidation, mode)
	}

	return domain.Trail{
		VehicleID:   vehicle,
		OperationID: operation,
		State:       domain.TrailOpen,
		StartTime:   now.UTC(),
		Style:       style,
		MetricsMode: mode,
	}, nil
}

// Append buffers a batch of points on an open trail. The batch is sorted by
// timestamp first. Returns domain.ErrValidation for an empty batch, an
// out-of-range coordinate, or a batch older than the buffer tail, and
// domain.ErrInvalidState when the trail is not open. A rejected batch
// buffers nothing.
func (s *TrailService) Append(ctx context.Context, trailID uuid.UUID, points []domain.Point) (int64, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: batch is empty", domain.ErrValidation)
	}
	for i, p := range points {
		if !p.InRange() {
			return 0, fmt.Errorf("%w: point %d has an invalid coordinate", domain.ErrValidation, i)
		}
	}

	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b domain.Point) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	n, err := s.points.Append(ctx, trailID, sorted)
	if err != nil {
		return 0, fmt.Errorf("service.TrailService.Append: %w", err)
	}
	return n, nil
}

// EvaluateFreshness moves an open trail to stale when it has had no activity
// within timeout. It is a no-op for fresh trails and for any other state.
func (s *TrailService) EvaluateFreshness(ctx context.Context, trailID uuid.UUID, timeout time.Duration) (domain.Trail, error) {
	trail, err := s.trails.GetByID(ctx, trailID)
	if err != nil {
		return domain.Trail{}, fmt.Errorf("service.TrailService.EvaluateFreshness: %w", err)
	}
	if trail.State != domain.TrailOpen {
		return trail, nil
	}

	f, err := s.freshness.evaluate(ctx, trail, timeout)
	if err != nil {
		return domain.Trail{}, err
	}
	if f.Fresh {
		return trail, nil
	}

	changed, err := s.trails.Transition(ctx, trailID, domain.TrailStale, domain.TrailOpen)
	if err != nil {
		return domain.Trail{}, fmt.Errorf("service.TrailService.EvaluateFreshness: %w", err)
	}
	if changed {
		trail.State = domain.TrailStale
		s.logger.Info("trail went stale", "trail_id", trailID, "last_activity", f.LastActivity)
	}
	return trail, nil
}

// RequestClose closes an open or stale trail. It claims the trail (state
// closing) and runs the closure pipeline.
//
// Closing a trail that is already closing or closed is a no-op result, not
// an error. Closing a trail that no longer exists reports it as deleted, so
// repeated closes of a discarded trail agree with each other. If the
// pipeline fails the trail goes back to the state it was claimed from.
func (s *TrailService) RequestClose(ctx context.Context, trailID uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error) {
	result := domain.ClosureResult{TrailID: trailID}
	if opts.MetricsMode != "" && !opts.MetricsMode.Valid() {
		return result, fmt.Errorf("%w: unknown metrics_mode %q", domain.ErrValidation, opts.MetricsMode)
	}
	if opts.Reason == "" {
		opts.Reason = domain.ReasonRequested
	}

	if !s.guard.acquire(trailID) {
		result.Reason = domain.ReasonAlreadyClosing
		return result, nil
	}
	defer s.guard.release(trailID)

	prior, claimed, err := s.trails.ClaimClosing(ctx, trailID, s.lease)
	if err != nil {
		return result, fmt.Errorf("service.TrailService.RequestClose: %w", err)
	}
	if !claimed {
		return s.unclaimable(ctx, trailID)
	}

	trail, err := s.trails.GetByID(ctx, trailID)
	if err != nil {
		s.revert(trailID, prior)
		return result, fmt.Errorf("service.TrailService.RequestClose: %w", err)
	}

	result, err = s.closer.Close(ctx, trail, opts)
	if err != nil {
		s.revert(trailID, prior)
		result.Error = err.Error()
		return result, fmt.Errorf("service.TrailService.RequestClose: %w", err)
	}
	return result, nil
}

// unclaimable explains why ClaimClosing refused the trail.
func (s *TrailService) unclaimable(ctx context.Context, trailID uuid.UUID) (domain.ClosureResult, error) {
	result := domain.ClosureResult{TrailID: trailID}

	trail, err := s.trails.GetByID(ctx, trailID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		result.Deleted = true
		result.Reason = domain.ReasonTrailGone
		return result, nil
	case err != nil:
		return result, fmt.Errorf("service.TrailService.RequestClose: %w", err)
	}

	if trail.State.Closable() {
		// Raced with another transition between the claim and this read.
		return result, fmt.Errorf("service.TrailService.RequestClose: %w: trail is %s", domain.ErrInvalidState, trail.State)
	}
	result.Reason = domain.ReasonAlreadyClosing
	if trail.State == domain.TrailClosed {
		result.Reason = domain.ReasonAlreadyClosed
	}
	return result, nil
}

// revert puts a claimed trail back into the state it was claimed from. It
// must run even when the request context is already cancelled.
func (s *TrailService) revert(trailID uuid.UUID, prior domain.TrailState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.trails.Transition(ctx, trailID, prior, domain.TrailClosing); err != nil {
		s.logger.Error("revert closing claim failed; lease expiry will release it",
			"trail_id", trailID, "state", prior, "error", err)
	}
}

// Get returns a trail including its geometry.
func (s *TrailService) Get(ctx context.Context, trailID uuid.UUID) (domain.Trail, error) {
	trail, err := s.trails.GetByID(ctx, trailID)
	if err != nil {
		return domain.Trail{}, fmt.Errorf("service.TrailService.Get: %w", err)
	}
	return trail, nil
}

// List returns one page of trails matching f.
func (s *TrailService) List(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error) {
	if f.State != "" && !slices.Contains(trailStates, f.State) {
		return nil, 0, fmt.Errorf("%w: unknown state %q", domain.ErrValidation, f.State)
	}
	trails, total, err := s.trails.ListPaged(ctx, f, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.TrailService.List: %w", err)
	}
	return trails, total, nil
}

var trailStates = []domain.TrailState{domain.TrailOpen, domain.TrailStale, domain.TrailClosing, domain.TrailClosed}

// Points returns the buffered points of a trail that is not yet closed.
func (s *TrailService) Points(ctx context.Context, trailID uuid.UUID) ([]domain.Point, error) {
	if _, err := s.trails.GetByID(ctx, trailID); err != nil {
		return nil, fmt.Errorf("service.TrailService.Points: %w", err)
	}
	points, err := s.points.List(ctx, trailID)
	if err != nil {
		return nil, fmt.Errorf("service.TrailService.Points: %w", err)
	}
	return points, nil
}

// Preview is a compact rendering of a trail's current shape.
type Preview struct {
	TrailID        uuid.UUID `json:"trail_id"`
	Polyline       string    `json:"polyline"`
	Points         int       `json:"points"`
	PreviewPoints  int       `json:"preview_points"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Preview returns an encoded polyline of the trail. Open trails are
// simplified from the buffer with the preview tolerance; closed trails use
// the stored path.
func (s *TrailService) Preview(ctx context.Context, trailID uuid.UUID) (Preview, error) {
	trail, err := s.trails.GetByID(ctx, trailID)
	if err != nil {
		return Preview{}, fmt.Errorf("service.TrailService.Preview: %w", err)
	}

	var source, shape []domain.Point
	if trail.IsOpen() {
		buffered, err := s.points.List(ctx, trailID)
		if err != nil {
			return Preview{}, fmt.Errorf("service.TrailService.Preview: %w", err)
		}
		source = domain.ValidPoints(buffered)
		shape = geometry.Simplify(source, s.policy.Preview)
	} else {
		source = trail.DetailedPath
		shape = trail.Path
	}

	return Preview{
		TrailID:        trailID,
		Polyline:       geometry.EncodePolyline(shape),
		Points:         len(source),
		PreviewPoints:  len(shape),
		DistanceMeters: geometry.LengthMeters(source),
	}, nil
}

// Delete removes a trail regardless of its state. Administrative only.
func (s *TrailService) Delete(ctx context.Context, trailID uuid.UUID) error {
	if err := s.trails.Delete(ctx, trailID); err != nil {
		return fmt.Errorf("service.TrailService.Delete: %w", err)
	}
	s.logger.Warn("trail deleted", "trail_id", trailID)
	return nil
}
