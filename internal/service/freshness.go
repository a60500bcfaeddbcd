package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
)

// FreshnessEvaluator decides whether a trail has seen activity recently.
// It never mutates anything.
type FreshnessEvaluator struct {
	trails repo.TrailRepo
	points repo.PointRepo
	now    func() time.Time
}

// NewFreshnessEvaluator constructs a FreshnessEvaluator. A nil now uses time.Now.
func NewFreshnessEvaluator(trails repo.TrailRepo, points repo.PointRepo, now func() time.Time) *FreshnessEvaluator {
	if now == nil {
		now = time.Now
	}
	return &FreshnessEvaluator{trails: trails, points: points, now: now}
}

// IsFresh reports whether now - lastActivity <= timeout. Last activity is the
// newest buffered point, or the trail's start time when the buffer is empty.
// Store failures are returned; the result is never guessed.
func (e *FreshnessEvaluator) IsFresh(ctx context.Context, trailID uuid.UUID, timeout time.Duration) (domain.Freshness, error) {
	trail, err := e.trails.GetByID(ctx, trailID)
	if err != nil {
		return domain.Freshness{}, fmt.Errorf("service.FreshnessEvaluator.IsFresh: %w", err)
	}
	return e.evaluate(ctx, trail, timeout)
}

func (e *FreshnessEvaluator) evaluate(ctx context.Context, trail domain.Trail, timeout time.Duration) (domain.Freshness, error) {
	last, err := e.points.Last(ctx, trail.ID)
	if err != nil {
		return domain.Freshness{}, fmt.Errorf("service.FreshnessEvaluator.IsFresh: %w", err)
	}

	activity := trail.StartTime
	if last != nil {
		activity = last.Time()
	}
	return domain.Freshness{
		Fresh:        e.now().Sub(activity) <= timeout,
		LastActivity: activity,
	}, nil
}
