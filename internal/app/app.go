// Package app wires configuration, the database pool and the services
// together. cmd/api and cmd/trailctl both build on it so the two binaries
// run the same engine.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pkordes/trail-engine/internal/config"
	"github.com/pkordes/trail-engine/internal/geometry"
	"github.com/pkordes/trail-engine/internal/handler"
	"github.com/pkordes/trail-engine/internal/repo"
	"github.com/pkordes/trail-engine/internal/service"
	"github.com/pkordes/trail-engine/internal/spatial"
	"github.com/pkordes/trail-engine/migrations"
)

// App holds the wired engine.
type App struct {
	Pool       *pgxpool.Pool
	Trails     *service.TrailService
	Freshness  *service.FreshnessEvaluator
	Reconciler *service.Reconciler
	Metrics    *service.MetricsRunner
	Dispatcher *service.MetricsDispatcher
	Backfill   *service.Backfill
	// Sweeper is nil when SWEEP_INTERVAL_SECONDS is 0.
	Sweeper *service.Sweeper

	cfg    config.Config
	logger *slog.Logger
}

// NewLogger returns the JSON slog logger used by both binaries. Unknown
// levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// New connects to the database, optionally migrates it, and builds every
// service. The caller must call Close.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	e := cfg.Engine
	tolerances := geometry.TolerancePolicy{Closure: e.SimplifyTolerance, Preview: e.PreviewTolerance}
	if err := tolerances.Validate(); err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	// New does not open connections; Ping does.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app.New: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app.New: connect: %w", err)
	}
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		if err := Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	trails := repo.NewTrailRepo(pool)
	points := repo.NewPointRepo(pool)

	runner := service.NewMetricsRunner(trails, spatial.NewService(pool))
	dispatcher := service.NewMetricsDispatcher(runner, e.MetricsTimeout, logger)
	pipeline := service.NewClosurePipeline(trails, points, dispatcher, service.ClosureConfig{
		Tolerance:           e.SimplifyTolerance,
		LargeTrailThreshold: e.LargeTrailThreshold,
	}, logger)
	freshness := service.NewFreshnessEvaluator(trails, points, nil)
	trailSvc := service.NewTrailService(trails, points, freshness, pipeline, service.TrailServiceConfig{
		ClosingLease: e.ClosingLease,
		Tolerances:   tolerances,
	}, logger)
	reconciler := service.NewReconciler(trails, freshness, trailSvc, e.StaleTimeout, logger)

	a := &App{
		Pool:       pool,
		Trails:     trailSvc,
		Freshness:  freshness,
		Reconciler: reconciler,
		Metrics:    runner,
		Dispatcher: dispatcher,
		Backfill:   service.NewBackfill(trails, runner, e.BackfillBatchSize, e.BackfillPause, logger),
		cfg:        cfg,
		logger:     logger,
	}
	if e.SweepInterval > 0 {
		a.Sweeper = service.NewSweeper(reconciler, e.SweepInterval, logger)
	}
	return a, nil
}

// Migrate applies the embedded migrations over a database/sql handle borrowed
// from pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	applied, err := migrations.Up(ctx, db)
	if err != nil {
		return fmt.Errorf("app.Migrate: %w", err)
	}
	logger.Info("migrations applied", "versions", applied)
	return nil
}

// HandlerDeps returns the collaborators the HTTP handlers need.
func (a *App) HandlerDeps() handler.Deps {
	return handler.Deps{
		Trails:       a.Trails,
		Freshness:    a.Freshness,
		Reconciler:   a.Reconciler,
		Metrics:      a.Metrics,
		StaleTimeout: a.cfg.Engine.StaleTimeout,
		Logger:       a.logger,
	}
}

// Close stops the sweeper, waits for deferred metrics runs to finish and
// closes the pool, in that order.
func (a *App) Close() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	a.Dispatcher.Wait()
	a.Pool.Close()
}
