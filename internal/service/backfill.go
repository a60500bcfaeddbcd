package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
)

// DefaultBackfillBatchSize is the number of trails computed concurrently.
const DefaultBackfillBatchSize = 8

// Backfill computes metrics for closed trails that do not have them yet.
type Backfill struct {
	trails    repo.TrailRepo
	runner    metricsRunner
	batchSize int
	pause     time.Duration
	logger    *slog.Logger
}

// NewBackfill constructs a Backfill. batchSize <= 0 uses
// DefaultBackfillBatchSize; pause <= 0 runs batches back to back. A nil
// logger uses slog.Default().
func NewBackfill(trails repo.TrailRepo, runner metricsRunner, batchSize int, pause time.Duration, logger *slog.Logger) *Backfill {
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{trails: trails, runner: runner, batchSize: batchSize, pause: pause, logger: logger}
}

// Run processes up to limit pending trails (all of them when limit <= 0) in
// batches of batchSize. A failing trail is recorded and the run continues.
// Batches start no more often than once per pause. Only a failure to list
// pending trails or a cancelled ctx ends the run early.
func (b *Backfill) Run(ctx context.Context, limit int) (domain.BackfillReport, error) {
	report := domain.BackfillReport{Results: []domain.MetricsResult{}}

	ids, err := b.trails.ListPendingMetrics(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("service.Backfill.Run: %w", err)
	}
	b.logger.Info("backfill starting", "pending", len(ids), "batch_size", b.batchSize)

	every := rate.Inf
	if b.pause > 0 {
		every = rate.Every(b.pause)
	}
	pacer := rate.NewLimiter(every, 1)

	for start := 0; start < len(ids); start += b.batchSize {
		if err := pacer.Wait(ctx); err != nil {
			return report, fmt.Errorf("service.Backfill.Run: %w", err)
		}

		batch := ids[start:min(start+b.batchSize, len(ids))]
		results := make([]domain.MetricsResult, len(batch))

		var g errgroup.Group
		g.SetLimit(b.batchSize)
		for i, id := range batch {
			g.Go(func() error {
				// Errors are carried in the result so one trail cannot
				// cancel the rest of the batch.
				results[i], _ = b.runner.Compute(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			report.Add(r)
			if r.Outcome == domain.MetricsErrored {
				b.logger.Warn("backfill trail failed", "trail_id", r.TrailID, "error", r.Error)
			}
		}
		b.logger.Info("backfill batch done",
			"done", start+len(batch),
			"total", len(ids),
			"succeeded", report.Succeeded,
			"errored", report.Errored,
		)
	}
	return report, nil
}

// Status reports how many closed trails have metrics. It does not modify
// anything.
func (b *Backfill) Status(ctx context.Context) (domain.BackfillStatus, error) {
	closed, withMetrics, err := b.trails.MetricsStatus(ctx)
	if err != nil {
		return domain.BackfillStatus{}, fmt.Errorf("service.Backfill.Status: %w", err)
	}
	return domain.NewBackfillStatus(closed, withMetrics), nil
}
