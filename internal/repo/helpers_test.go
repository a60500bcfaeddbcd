package repo_test

import (
	"testing"
	"time"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
	"github.com/pkordes/trail-engine/testutil"
)

// newTestRepos opens a transaction against the test database and returns a
// TrailRepo and PointRepo sharing it. The transaction is rolled back when the
// test finishes, giving free per-test isolation.
func newTestRepos(t *testing.T) (repo.TrailRepo, repo.PointRepo) {
	t.Helper()
	tx := testutil.NewTx(t)
	return repo.NewTrailRepo(tx), repo.NewPointRepo(tx)
}

// trailFixture returns an open trail with sensible defaults.
// Callers can override individual fields after calling this function.
func trailFixture() domain.Trail {
	return domain.Trail{
		VehicleID:   "tractor-1",
		OperationID: "op-north",
		StartTime:   time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
		Style:       domain.TrailStyle{Color: "#00AA00", Width: 12},
		MetricsMode: domain.MetricsDetailed,
	}
}

// pointsFixture returns n points heading east from the origin, one second apart.
func pointsFixture(n int) []domain.Point {
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC).UnixMilli()
	points := make([]domain.Point, n)
	for i := range points {
		points[i] = domain.Point{
			Longitude: -93.5 + float64(i)*0.0001,
			Latitude:  42.0 + float64(i%2)*0.00001,
			Timestamp: base + int64(i)*1000,
		}
	}
	return points
}
