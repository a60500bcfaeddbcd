package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/geometry"
	"github.com/pkordes/trail-engine/internal/repo"
)

// Dispatcher starts the deferred metrics step for a closed trail without
// blocking the caller.
type Dispatcher interface {
	Dispatch(trailID uuid.UUID)
}

// ClosureConfig tunes the closure pipeline.
type ClosureConfig struct {
	// Tolerance is the Douglas-Peucker tolerance for the persisted path.
	Tolerance float64
	// LargeTrailThreshold is the valid point count above which a trail
	// without an explicit metrics mode is switched to simplified metrics.
	// Zero disables the switch.
	LargeTrailThreshold int
}

// ClosurePipeline performs fast closure of a trail that has already been
// claimed (state closing) and hands metrics off to a Dispatcher.
type ClosurePipeline struct {
	trails     repo.TrailRepo
	points     repo.PointRepo
	dispatcher Dispatcher
	cfg        ClosureConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewClosurePipeline constructs a ClosurePipeline. A nil logger uses
// slog.Default().
func NewClosurePipeline(trails repo.TrailRepo, points repo.PointRepo, d Dispatcher, cfg ClosureConfig, logger *slog.Logger) *ClosurePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClosurePipeline{
		trails:     trails,
		points:     points,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Close runs fast closure for trail, which must be in the closing state.
//
// Fewer than domain.MinClosurePoints valid points discards the trail.
// Otherwise end_time, path and detailed_path are written and the buffer is
// deleted in one transaction, then metrics are dispatched. Close never waits
// for metrics. An error means nothing was written.
func (p *ClosurePipeline) Close(ctx context.Context, trail domain.Trail, opts domain.CloseOptions) (domain.ClosureResult, error) {
	result := domain.ClosureResult{TrailID: trail.ID}
	log := p.logger.With("trail_id", trail.ID, "vehicle_id", trail.VehicleID, "operation_id", trail.OperationID)

	buffered, err := p.points.List(ctx, trail.ID)
	if err != nil {
		return result, fmt.Errorf("service.ClosurePipeline.Close: %w", err)
	}
	valid := domain.ValidPoints(buffered)

	if len(valid) < domain.MinClosurePoints {
		err := p.trails.Discard(ctx, trail.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return result, fmt.Errorf("service.ClosurePipeline.Close: %w", err)
		}
		result.Deleted = true
		result.Reason = domain.ReasonInsufficientPoints
		log.Info("trail discarded", "valid_points", len(valid), "buffered_points", len(buffered))
		return result, nil
	}

	mode := p.metricsMode(trail, opts, len(valid), log)

	endTime := p.now().UTC()
	if opts.EndTime != nil {
		endTime = opts.EndTime.UTC()
	}

	path := geometry.Simplify(valid, p.cfg.Tolerance)
	err = p.trails.Close(ctx, trail.ID, repo.Closure{
		EndTime:      endTime,
		Path:         path,
		DetailedPath: valid,
		MetricsMode:  mode,
	})
	if err != nil {
		return result, fmt.Errorf("service.ClosurePipeline.Close: %w", err)
	}

	log.Info("trail closed",
		"reason", opts.Reason,
		"valid_points", len(valid),
		"path_points", len(path),
		"metrics_mode", mode,
	)

	result.Closed = true
	result.Reason = opts.Reason
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(trail.ID)
	}
	return result, nil
}

// metricsMode picks the mode persisted with the closure. An explicit request
// wins, then the mode chosen at open. Past the threshold a detailed trail is
// switched to simplified and the switch is logged.
func (p *ClosurePipeline) metricsMode(trail domain.Trail, opts domain.CloseOptions, validPoints int, log *slog.Logger) domain.MetricsMode {
	if opts.MetricsMode.Valid() {
		return opts.MetricsMode
	}
	if trail.MetricsMode == domain.MetricsSimplified {
		return domain.MetricsSimplified
	}
	if p.cfg.LargeTrailThreshold > 0 && validPoints > p.cfg.LargeTrailThreshold {
		log.Warn("large trail: metrics will use the simplified path",
			"valid_points", validPoints,
			"threshold", p.cfg.LargeTrailThreshold,
		)
		return domain.MetricsSimplified
	}
	return domain.MetricsDetailed
}
