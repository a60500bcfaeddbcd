package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkordes/trail-engine/internal/domain"
)

type scopeReconciler interface {
	ReconcileAll(ctx context.Context) (domain.OperationReconcile, error)
}

// Sweeper periodically reconciles every scope with open trails so abandoned
// trails are closed even when no client asks.
type Sweeper struct {
	reconciler scopeReconciler
	interval   time.Duration
	logger     *slog.Logger

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewSweeper constructs a Sweeper. A nil logger uses slog.Default().
func NewSweeper(r scopeReconciler, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		reconciler: r,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until ctx is cancelled or Stop is
// called. The first sweep happens after one interval.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("sweeper starting", "interval", s.interval)
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	res, err := s.reconciler.ReconcileAll(sweepCtx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if len(res.Errors) > 0 {
		s.logger.Warn("sweep finished with errors", "active", len(res.ActiveTrails), "errors", res.Errors)
		return
	}
	s.logger.Debug("sweep finished", "active", len(res.ActiveTrails))
}
