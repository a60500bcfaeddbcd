package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
)

type trailCloser interface {
	RequestClose(ctx context.Context, trailID uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error)
	Delete(ctx context.Context, trailID uuid.UUID) error
}

type reconciler interface {
	CheckOpenTrails(ctx context.Context, vehicleID string, timeout *time.Duration) (domain.OpenTrailCheck, error)
	ReconcileOperation(ctx context.Context, operationID, excludeVehicleID string, timeout *time.Duration) (domain.OperationReconcile, error)
	ReconcileAll(ctx context.Context) (domain.OperationReconcile, error)
}

type metricsComputer interface {
	Compute(ctx context.Context, trailID uuid.UUID) (domain.MetricsResult, error)
}

type backfiller interface {
	Run(ctx context.Context, limit int) (domain.BackfillReport, error)
	Status(ctx context.Context) (domain.BackfillStatus, error)
}

// errUsage marks a bad invocation; the flag set has already printed why.
var errUsage = errors.New("invalid arguments")

type commands struct {
	trails     trailCloser
	reconciler reconciler
	metrics    metricsComputer
	backfill   backfiller
	migrate    func(ctx context.Context) error
	out        io.Writer
	errOut     io.Writer
}

func (c *commands) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "migrate":
		if err := c.migrate(ctx); err != nil {
			return err
		}
		return c.print(map[string]string{"status": "migrated"})
	case "reconcile":
		return c.reconcile(ctx, args)
	case "close":
		return c.closeTrail(ctx, args)
	case "delete":
		return c.deleteTrail(ctx, args)
	case "metrics":
		return c.computeMetrics(ctx, args)
	case "backfill":
		return c.runBackfill(ctx, args)
	default:
		return fmt.Errorf("unknown command %q (run trailctl help)", name)
	}
}

func (c *commands) reconcile(ctx context.Context, args []string) error {
	fs := c.flagSet("reconcile")
	all := fs.Bool("all", false, "reconcile every scope with open trails")
	vehicle := fs.String("vehicle", "", "vehicle id")
	operation := fs.String("operation", "", "operation id")
	exclude := fs.String("exclude", "", "vehicle to skip when reconciling an operation")
	timeout := fs.Duration("timeout", 0, "staleness timeout (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var t *time.Duration
	if *timeout > 0 {
		t = timeout
	}

	switch {
	case *all:
		out, err := c.reconciler.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		return c.print(out)
	case *vehicle != "":
		out, err := c.reconciler.CheckOpenTrails(ctx, *vehicle, t)
		if err != nil {
			return err
		}
		return c.print(out)
	case *operation != "":
		out, err := c.reconciler.ReconcileOperation(ctx, *operation, *exclude, t)
		if err != nil {
			return err
		}
		return c.print(out)
	default:
		return fmt.Errorf("reconcile: one of -all, -vehicle or -operation is required")
	}
}

func (c *commands) closeTrail(ctx context.Context, args []string) error {
	fs := c.flagSet("close")
	id := fs.String("id", "", "trail id")
	mode := fs.String("mode", "", "metrics mode override: detailed or simplified")
	end := fs.String("end", "", "end time, RFC 3339 (default now)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	trailID, err := parseID(*id)
	if err != nil {
		return err
	}
	opts := domain.CloseOptions{MetricsMode: domain.MetricsMode(*mode), Reason: domain.ReasonRequested}
	if *mode != "" && !opts.MetricsMode.Valid() {
		return fmt.Errorf("close: -mode must be detailed or simplified")
	}
	if *end != "" {
		t, err := time.Parse(time.RFC3339, *end)
		if err != nil {
			return fmt.Errorf("close: -end: %w", err)
		}
		opts.EndTime = &t
	}

	result, err := c.trails.RequestClose(ctx, trailID, opts)
	if err != nil {
		return err
	}
	return c.print(result)
}

func (c *commands) deleteTrail(ctx context.Context, args []string) error {
	fs := c.flagSet("delete")
	id := fs.String("id", "", "trail id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	trailID, err := parseID(*id)
	if err != nil {
		return err
	}
	if err := c.trails.Delete(ctx, trailID); err != nil {
		return err
	}
	return c.print(map[string]any{"trail_id": trailID, "deleted": true})
}

func (c *commands) computeMetrics(ctx context.Context, args []string) error {
	fs := c.flagSet("metrics")
	id := fs.String("id", "", "trail id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	trailID, err := parseID(*id)
	if err != nil {
		return err
	}
	result, err := c.metrics.Compute(ctx, trailID)
	if err != nil {
		return err
	}
	return c.print(result)
}

func (c *commands) runBackfill(ctx context.Context, args []string) error {
	fs := c.flagSet("backfill")
	status := fs.Bool("status", false, "report progress instead of running")
	limit := fs.Int("limit", 0, "process at most n trails (0 = all)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *status {
		s, err := c.backfill.Status(ctx)
		if err != nil {
			return err
		}
		return c.print(s)
	}
	if *limit < 0 {
		return fmt.Errorf("backfill: -limit must not be negative")
	}
	report, err := c.backfill.Run(ctx, *limit)
	if err != nil {
		return err
	}
	return c.print(report)
}

// ---- helpers ----

func (c *commands) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if c.errOut != nil {
		fs.SetOutput(c.errOut)
	}
	return fs
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("-id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-id: %w", err)
	}
	return id, nil
}
