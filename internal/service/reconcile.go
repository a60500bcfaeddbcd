package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
)

type closeRequester interface {
	RequestClose(ctx context.Context, trailID uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error)
}

// Reconciler repairs scopes holding more than one open trail and closes open
// trails that have gone stale.
type Reconciler struct {
	trails         repo.TrailRepo
	freshness      *FreshnessEvaluator
	closer         closeRequester
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewReconciler constructs a Reconciler. defaultTimeout is used when a caller
// does not supply a staleness timeout. A nil logger uses slog.Default().
func NewReconciler(trails repo.TrailRepo, freshness *FreshnessEvaluator, closer closeRequester, defaultTimeout time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		trails:         trails,
		freshness:      freshness,
		closer:         closer,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Reconcile inspects the vehicle's unclosed trails, newest first. Every trail
// but the newest is closed unconditionally. The newest survives only while it
// is open and fresh. A nil operationID spans all of the vehicle's operations.
//
// Failures on individual trails are recorded in their ClosureResult and do
// not stop the pass. A freshness read that fails keeps the trail alive.
func (r *Reconciler) Reconcile(ctx context.Context, vehicleID string, operationID *string, timeout time.Duration) (domain.ReconcileResult, error) {
	result := domain.ReconcileResult{Processed: []domain.ClosureResult{}}

	open, err := r.trails.ListOpen(ctx, vehicleID, operationID)
	if err != nil {
		return result, fmt.Errorf("service.Reconciler.Reconcile: %w", err)
	}
	if len(open) == 0 {
		return result, nil
	}

	newest, older := open[0], open[1:]
	for _, t := range older {
		result.Processed = append(result.Processed, r.close(ctx, t, domain.ReasonDuplicateOpen))
	}
	if len(older) > 0 {
		r.logger.Warn("closed duplicate open trails",
			"vehicle_id", vehicleID,
			"count", len(older),
			"survivor", newest.ID,
		)
	}

	if newest.State != domain.TrailOpen {
		r.closeStale(ctx, newest, &result)
		return result, nil
	}

	f, err := r.freshness.evaluate(ctx, newest, timeout)
	if err != nil {
		result.Processed = append(result.Processed, domain.ClosureResult{TrailID: newest.ID, Error: err.Error()})
		result.MostRecentOpen = &newest
		return result, nil
	}
	if !f.Fresh {
		r.closeStale(ctx, newest, &result)
		return result, nil
	}

	result.MostRecentOpen = &newest
	return result, nil
}

// closeStale closes the newest trail. A discard for too few points still
// counts as the stale trail being handled.
func (r *Reconciler) closeStale(ctx context.Context, t domain.Trail, result *domain.ReconcileResult) {
	res := r.close(ctx, t, domain.ReasonStale)
	result.Processed = append(result.Processed, res)
	result.StaleClosed = res.Closed || res.Deleted
}

func (r *Reconciler) close(ctx context.Context, t domain.Trail, reason string) domain.ClosureResult {
	res, err := r.closer.RequestClose(ctx, t.ID, domain.CloseOptions{Reason: reason})
	if err != nil {
		r.logger.Error("reconcile close failed", "trail_id", t.ID, "vehicle_id", t.VehicleID, "error", err)
		res.TrailID = t.ID
		res.Error = err.Error()
	}
	return res
}

// CheckOpenTrails reconciles the vehicle across all operations and reports
// the surviving open trail, if any. A nil timeout uses the default.
func (r *Reconciler) CheckOpenTrails(ctx context.Context, vehicleID string, timeout *time.Duration) (domain.OpenTrailCheck, error) {
	var check domain.OpenTrailCheck

	res, err := r.Reconcile(ctx, vehicleID, nil, r.timeout(timeout))
	if err != nil {
		return check, fmt.Errorf("service.Reconciler.CheckOpenTrails: %w", err)
	}

	check.StaleTrailClosed = res.StaleClosed

	if res.MostRecentOpen != nil {
		check.OpenTrail = res.MostRecentOpen
		f, err := r.freshness.evaluate(ctx, *res.MostRecentOpen, r.timeout(timeout))
		if err != nil {
			return check, fmt.Errorf("service.Reconciler.CheckOpenTrails: %w", err)
		}
		check.LastActivity = &f.LastActivity
	}
	return check, nil
}

// ReconcileOperation reconciles every vehicle other than excludeVehicleID that
// holds open trails in the operation, and returns the surviving trails.
func (r *Reconciler) ReconcileOperation(ctx context.Context, operationID, excludeVehicleID string, timeout *time.Duration) (domain.OperationReconcile, error) {
	out := domain.OperationReconcile{ActiveTrails: []domain.Trail{}, Errors: []string{}}
	if operationID == "" {
		return out, fmt.Errorf("%w: operation_id is required", domain.ErrValidation)
	}

	scopes, err := r.trails.ListOpenScopes(ctx, operationID, excludeVehicleID)
	if err != nil {
		return out, fmt.Errorf("service.Reconciler.ReconcileOperation: %w", err)
	}

	for _, scope := range scopes {
		r.reconcileScope(ctx, scope, r.timeout(timeout), &out)
	}
	return out, nil
}

// ReconcileAll reconciles every scope holding open trails. The sweeper calls
// it on a timer.
func (r *Reconciler) ReconcileAll(ctx context.Context) (domain.OperationReconcile, error) {
	out := domain.OperationReconcile{ActiveTrails: []domain.Trail{}, Errors: []string{}}

	scopes, err := r.trails.ListOpenScopes(ctx, "", "")
	if err != nil {
		return out, fmt.Errorf("service.Reconciler.ReconcileAll: %w", err)
	}
	for _, scope := range scopes {
		r.reconcileScope(ctx, scope, r.defaultTimeout, &out)
	}
	return out, nil
}

func (r *Reconciler) reconcileScope(ctx context.Context, scope domain.Scope, timeout time.Duration, out *domain.OperationReconcile) {
	op := scope.OperationID
	res, err := r.Reconcile(ctx, scope.VehicleID, &op, timeout)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("vehicle %s: %v", scope.VehicleID, err))
		return
	}
	for _, p := range res.Processed {
		if p.Error != "" {
			out.Errors = append(out.Errors, fmt.Sprintf("vehicle %s trail %s: %s", scope.VehicleID, p.TrailID, p.Error))
		}
	}
	if res.MostRecentOpen != nil {
		out.ActiveTrails = append(out.ActiveTrails, *res.MostRecentOpen)
	}
}

func (r *Reconciler) timeout(t *time.Duration) time.Duration {
	if t == nil {
		return r.defaultTimeout
	}
	return *t
}
