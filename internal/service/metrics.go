package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
)

// MetricsComputer is the spatial-metrics collaborator. It is implemented by
// spatial.Service.
type MetricsComputer interface {
	Compute(ctx context.Context, trailID uuid.UUID, mode domain.MetricsMode) (domain.Metrics, error)
}

// MetricsRunner computes and stores metrics for one closed trail.
// Running it again on a trail that already has metrics is a no-op, which
// makes it safe for manual retries and backfill.
type MetricsRunner struct {
	trails   repo.TrailRepo
	computer MetricsComputer
}

// NewMetricsRunner constructs a MetricsRunner.
func NewMetricsRunner(trails repo.TrailRepo, computer MetricsComputer) *MetricsRunner {
	return &MetricsRunner{trails: trails, computer: computer}
}

// Compute fills in metrics for trailID using the trail's persisted metrics
// mode. The returned result is always populated; err is non-nil exactly when
// the outcome is domain.MetricsErrored.
func (r *MetricsRunner) Compute(ctx context.Context, trailID uuid.UUID) (domain.MetricsResult, error) {
	result := domain.MetricsResult{TrailID: trailID}

	fail := func(err error) (domain.MetricsResult, error) {
		err = fmt.Errorf("service.MetricsRunner.Compute: %w", err)
		result.Outcome = domain.MetricsErrored
		result.Error = err.Error()
		return result, err
	}

	trail, err := r.trails.GetByID(ctx, trailID)
	if err != nil {
		return fail(err)
	}
	if trail.State != domain.TrailClosed {
		return fail(fmt.Errorf("%w: trail is %s", domain.ErrInvalidState, trail.State))
	}
	if trail.Metrics != nil {
		result.Outcome = domain.MetricsAlreadyProcessed
		result.Metrics = trail.Metrics
		return result, nil
	}

	m, err := r.computer.Compute(ctx, trailID, trail.MetricsMode)
	if err != nil {
		return fail(err)
	}
	if err := r.trails.SaveMetrics(ctx, trailID, m); err != nil {
		return fail(err)
	}

	result.Outcome = domain.MetricsSucceeded
	result.Metrics = &m
	return result, nil
}

// MetricsDispatcher runs MetricsRunner in the background after fast closure.
// Each run gets its own timeout detached from any request context. Failures
// are logged and leave the metrics null; nothing is retried here.
type MetricsDispatcher struct {
	runner  metricsRunner
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

type metricsRunner interface {
	Compute(ctx context.Context, trailID uuid.UUID) (domain.MetricsResult, error)
}

// NewMetricsDispatcher constructs a MetricsDispatcher. A nil logger uses
// slog.Default().
func NewMetricsDispatcher(runner metricsRunner, timeout time.Duration, logger *slog.Logger) *MetricsDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsDispatcher{runner: runner, timeout: timeout, logger: logger}
}

// Dispatch starts the metrics computation and returns immediately.
func (d *MetricsDispatcher) Dispatch(trailID uuid.UUID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("metrics computation panicked", "trail_id", trailID, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		res, err := d.runner.Compute(ctx, trailID)
		if err != nil {
			d.logger.Error("deferred metrics failed", "trail_id", trailID, "error", err)
			return
		}
		d.logger.Info("deferred metrics done",
			"trail_id", trailID,
			"outcome", res.Outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()
}

// Wait blocks until every dispatched computation has finished.
func (d *MetricsDispatcher) Wait() {
	d.wg.Wait()
}
