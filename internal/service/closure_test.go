package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/geometry"
	"github.com/pkordes/trail-engine/internal/repo"
	"github.com/pkordes/trail-engine/internal/service"
)

func newPipeline(trails repo.TrailRepo, points repo.PointRepo, d service.Dispatcher) *service.ClosurePipeline {
	return service.NewClosurePipeline(trails, points, d, service.ClosureConfig{
		Tolerance:           geometry.DefaultClosureTolerance,
		LargeTrailThreshold: 100_000,
	}, nil)
}

// claimed seeds a trail that has already been moved to closing.
func claimed(store *memStore, trail domain.Trail, points ...domain.Point) domain.Trail {
	trail.State = domain.TrailClosing
	return store.seed(trail, points...)
}

func TestClosurePipeline_DiscardsBelowThreeValidPoints(t *testing.T) {
	store := newMemStore()
	d := &recordingDispatcher{}
	points := track(4, epoch)
	points[1].Longitude = math.NaN()
	points[2].Latitude = math.Inf(1)
	trail := claimed(store, openTrail("v1", "op", epoch), points...)

	got, err := newPipeline(store, store, d).Close(context.Background(), trail, domain.CloseOptions{})

	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.False(t, got.Closed)
	assert.Equal(t, domain.ReasonInsufficientPoints, got.Reason)
	_, exists := store.trail(trail.ID)
	assert.False(t, exists, "trail record is deleted")
	assert.Empty(t, d.dispatched(), "discarded trails get no metrics")
}

func TestClosurePipeline_ClosesAndDispatches(t *testing.T) {
	store := newMemStore()
	d := &recordingDispatcher{}
	points := track(50, epoch)
	points[10].Latitude = math.NaN()
	trail := claimed(store, openTrail("v1", "op", epoch), points...)
	end := epoch.Add(time.Hour)

	got, err := newPipeline(store, store, d).Close(context.Background(), trail, domain.CloseOptions{EndTime: &end, Reason: domain.ReasonRequested})

	require.NoError(t, err)
	assert.True(t, got.Closed)
	assert.Equal(t, domain.ReasonRequested, got.Reason)

	closed, _ := store.trail(trail.ID)
	assert.Equal(t, domain.TrailClosed, closed.State)
	require.NotNil(t, closed.EndTime)
	assert.True(t, closed.EndTime.Equal(end))
	assert.Len(t, closed.DetailedPath, 49, "invalid points are filtered")
	assert.LessOrEqual(t, len(closed.Path), len(closed.DetailedPath))
	assert.Equal(t, closed.DetailedPath[0], closed.Path[0])
	assert.Equal(t, closed.DetailedPath[48], closed.Path[len(closed.Path)-1])

	assert.Zero(t, store.buffered(trail.ID), "buffer deleted")
	assert.Equal(t, []uuid.UUID{trail.ID}, d.dispatched())
}

func TestClosurePipeline_PersistFailureWritesNothing(t *testing.T) {
	store := newMemStore()
	d := &recordingDispatcher{}
	trail := claimed(store, openTrail("v1", "op", epoch), track(10, epoch)...)
	boom := errors.New("disk full")
	trails := &mockTrailRepo{
		memStore: store,
		close:    func(context.Context, uuid.UUID, repo.Closure) error { return boom },
	}

	_, err := newPipeline(trails, store, d).Close(context.Background(), trail, domain.CloseOptions{})

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, d.dispatched())
	assert.Equal(t, 10, store.buffered(trail.ID), "buffer untouched")
}

func TestClosurePipeline_LargeTrailSwitchesToSimplifiedMode(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	computer := &mockComputer{
		compute: func(ctx context.Context, _ uuid.UUID, _ domain.MetricsMode) (domain.Metrics, error) {
			select {
			case <-release:
				return domain.Metrics{DistanceMeters: 1500}, nil
			case <-ctx.Done():
				return domain.Metrics{}, ctx.Err()
			}
		},
	}
	d := service.NewMetricsDispatcher(service.NewMetricsRunner(store, computer), time.Minute, nil)
	trail := claimed(store, openTrail("v1", "op", epoch), straightTrack(150_000, epoch)...)

	got, err := newPipeline(store, store, d).Close(context.Background(), trail, domain.CloseOptions{Reason: domain.ReasonStale})

	require.NoError(t, err)
	assert.True(t, got.Closed)
	closed, _ := store.trail(trail.ID)
	assert.Equal(t, domain.MetricsSimplified, closed.MetricsMode, "mode is persisted")
	assert.Len(t, closed.DetailedPath, 150_000)
	assert.Nil(t, closed.Metrics, "close returns while metrics are still running")

	close(release)
	d.Wait()

	assert.Equal(t, []domain.MetricsMode{domain.MetricsSimplified}, computer.modes())
	closed, _ = store.trail(trail.ID)
	require.NotNil(t, closed.Metrics)
	assert.Equal(t, 1500.0, closed.Metrics.DistanceMeters)
}

func TestClosurePipeline_ExplicitModeWins(t *testing.T) {
	store := newMemStore()
	trail := claimed(store, openTrail("v1", "op", epoch), track(10, epoch)...)

	_, err := newPipeline(store, store, nil).Close(context.Background(), trail, domain.CloseOptions{MetricsMode: domain.MetricsSimplified})

	require.NoError(t, err)
	closed, _ := store.trail(trail.ID)
	assert.Equal(t, domain.MetricsSimplified, closed.MetricsMode)
}

func TestClosurePipeline_ModeChosenAtOpenIsKept(t *testing.T) {
	store := newMemStore()
	open := openTrail("v1", "op", epoch)
	open.MetricsMode = domain.MetricsSimplified
	trail := claimed(store, open, track(10, epoch)...)

	_, err := newPipeline(store, store, nil).Close(context.Background(), trail, domain.CloseOptions{})

	require.NoError(t, err)
	closed, _ := store.trail(trail.ID)
	assert.Equal(t, domain.MetricsSimplified, closed.MetricsMode)
}
