package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/handler"
	"github.com/pkordes/trail-engine/internal/service"
)

// mockTrailServicer is a test double for handler.TrailServicer.
// Set only the method fields your test needs.
type mockTrailServicer struct {
	open              func(ctx context.Context, req service.OpenRequest) (domain.Trail, error)
	appendPoints      func(ctx context.Context, id uuid.UUID, points []domain.Point) (int64, error)
	evaluateFreshness func(ctx context.Context, id uuid.UUID, timeout time.Duration) (domain.Trail, error)
	requestClose      func(ctx context.Context, id uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error)
	get               func(ctx context.Context, id uuid.UUID) (domain.Trail, error)
	list              func(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error)
	points            func(ctx context.Context, id uuid.UUID) ([]domain.Point, error)
	preview           func(ctx context.Context, id uuid.UUID) (service.Preview, error)
	delete            func(ctx context.Context, id uuid.UUID) error
}

func (m *mockTrailServicer) Open(ctx context.Context, req service.OpenRequest) (domain.Trail, error) {
	return m.open(ctx, req)
}
func (m *mockTrailServicer) Append(ctx context.Context, id uuid.UUID, points []domain.Point) (int64, error) {
	return m.appendPoints(ctx, id, points)
}
func (m *mockTrailServicer) EvaluateFreshness(ctx context.Context, id uuid.UUID, timeout time.Duration) (domain.Trail, error) {
	return m.evaluateFreshness(ctx, id, timeout)
}
func (m *mockTrailServicer) RequestClose(ctx context.Context, id uuid.UUID, opts domain.CloseOptions) (domain.ClosureResult, error) {
	return m.requestClose(ctx, id, opts)
}
func (m *mockTrailServicer) Get(ctx context.Context, id uuid.UUID) (domain.Trail, error) {
	return m.get(ctx, id)
}
func (m *mockTrailServicer) List(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error) {
	return m.list(ctx, f, p)
}
func (m *mockTrailServicer) Points(ctx context.Context, id uuid.UUID) ([]domain.Point, error) {
	return m.points(ctx, id)
}
func (m *mockTrailServicer) Preview(ctx context.Context, id uuid.UUID) (service.Preview, error) {
	return m.preview(ctx, id)
}
func (m *mockTrailServicer) Delete(ctx context.Context, id uuid.UUID) error {
	return m.delete(ctx, id)
}

// compile-time check: mockTrailServicer must satisfy handler.TrailServicer.
var _ handler.TrailServicer = (*mockTrailServicer)(nil)

type mockFreshness struct {
	isFresh func(ctx context.Context, id uuid.UUID, timeout time.Duration) (domain.Freshness, error)
}

func (m *mockFreshness) IsFresh(ctx context.Context, id uuid.UUID, timeout time.Duration) (domain.Freshness, error) {
	return m.isFresh(ctx, id, timeout)
}

var _ handler.FreshnessChecker = (*mockFreshness)(nil)

type mockReconciler struct {
	checkOpenTrails    func(ctx context.Context, vehicleID string, timeout *time.Duration) (domain.OpenTrailCheck, error)
	reconcileOperation func(ctx context.Context, operationID, exclude string, timeout *time.Duration) (domain.OperationReconcile, error)
}

func (m *mockReconciler) CheckOpenTrails(ctx context.Context, vehicleID string, timeout *time.Duration) (domain.OpenTrailCheck, error) {
	return m.checkOpenTrails(ctx, vehicleID, timeout)
}
func (m *mockReconciler) ReconcileOperation(ctx context.Context, operationID, exclude string, timeout *time.Duration) (domain.OperationReconcile, error) {
	return m.reconcileOperation(ctx, operationID, exclude, timeout)
}

var _ handler.Reconciler = (*mockReconciler)(nil)

type mockMetrics struct {
	compute func(ctx context.Context, id uuid.UUID) (domain.MetricsResult, error)
}

func (m *mockMetrics) Compute(ctx context.Context, id uuid.UUID) (domain.MetricsResult, error) {
	return m.compute(ctx, id)
}

var _ handler.MetricsComputer = (*mockMetrics)(nil)

// ---- helpers ---------------------------------------------------------------

const defaultStaleTimeout = 600 * time.Minute

// newHTTPHandler wires a Server with the given mocks into a chi router, the
// same way main.go does in production.
func newHTTPHandler(d handler.Deps) http.Handler {
	if d.StaleTimeout == 0 {
		d.StaleTimeout = defaultStaleTimeout
	}
	return handler.NewServer(d).Handler()
}

func trailFixture() domain.Trail {
	start := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	return domain.Trail{
		ID:          uuid.New(),
		VehicleID:   "tractor-1",
		OperationID: "op-north",
		State:       domain.TrailOpen,
		StartTime:   start,
		Style:       domain.TrailStyle{Color: "#00AA00", Width: 12},
		MetricsMode: domain.MetricsDetailed,
		CreatedAt:   start,
		UpdatedAt:   start,
	}
}

func closedFixture() domain.Trail {
	t := trailFixture()
	end := t.StartTime.Add(2 * time.Hour)
	t.State = domain.TrailClosed
	t.EndTime = &end
	t.DetailedPath = []domain.Point{
		{Longitude: -93.5, Latitude: 42.0, Timestamp: t.StartTime.UnixMilli()},
		{Longitude: -93.4, Latitude: 42.1, Timestamp: t.StartTime.Add(time.Hour).UnixMilli()},
		{Longitude: -93.3, Latitude: 42.0, Timestamp: end.UnixMilli()},
	}
	t.Path = t.DetailedPath
	return t
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func serve(h http.Handler, method, target string, body *bytes.Buffer) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorDetail {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}
