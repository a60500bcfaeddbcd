package service_test

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/repo"
)

// memStore is an in-memory TrailRepo and PointRepo with the same state rules
// as the Postgres implementation. Scenario tests drive the real services
// against it; the function-field mocks below cover individual error paths.
type memStore struct {
	mu     sync.Mutex
	trails map[uuid.UUID]domain.Trail
	points map[uuid.UUID][]domain.Point
	now    func() time.Time

	closeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		trails: map[uuid.UUID]domain.Trail{},
		points: map[uuid.UUID][]domain.Point{},
		now:    time.Now,
	}
}

var (
	_ repo.TrailRepo = (*memStore)(nil)
	_ repo.PointRepo = (*memStore)(nil)
)

// seed stores t as-is, assigning an id when it has none.
func (m *memStore) seed(t domain.Trail, points ...domain.Point) domain.Trail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.State == "" {
		t.State = domain.TrailOpen
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = m.now()
	}
	m.trails[t.ID] = t
	m.points[t.ID] = slices.Clone(points)
	return t
}

func (m *memStore) trail(id uuid.UUID) (domain.Trail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	return t, ok
}

func (m *memStore) Create(_ context.Context, t domain.Trail) (domain.Trail, error) {
	t.CreatedAt = m.now()
	return m.seed(t), nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (domain.Trail, error) {
	t, ok := m.trail(id)
	if !ok {
		return domain.Trail{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memStore) ListPaged(_ context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trail
	for _, t := range m.trails {
		if (f.VehicleID == "" || t.VehicleID == f.VehicleID) &&
			(f.OperationID == "" || t.OperationID == f.OperationID) &&
			(f.State == "" || t.State == f.State) {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	total := int64(len(out))
	lo := min(p.Offset(), len(out))
	hi := min(lo+p.Limit, len(out))
	return out[lo:hi], total, nil
}

func (m *memStore) ListOpen(_ context.Context, vehicleID string, operationID *string) ([]domain.Trail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Trail{}
	for _, t := range m.trails {
		if t.EndTime == nil && t.VehicleID == vehicleID && (operationID == nil || t.OperationID == *operationID) {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memStore) ListOpenScopes(_ context.Context, operationID, excludeVehicleID string) ([]domain.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[domain.Scope]bool{}
	out := []domain.Scope{}
	for _, t := range m.trails {
		s := domain.Scope{VehicleID: t.VehicleID, OperationID: t.OperationID}
		if t.EndTime != nil || seen[s] ||
			(operationID != "" && t.OperationID != operationID) ||
			(excludeVehicleID != "" && t.VehicleID == excludeVehicleID) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.Scope) int { return cmp.Compare(a.VehicleID, b.VehicleID) })
	return out, nil
}

func (m *memStore) Transition(_ context.Context, id uuid.UUID, to domain.TrailState, from ...domain.TrailState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	if !ok || !slices.Contains(from, t.State) {
		return false, nil
	}
	t.State = to
	t.UpdatedAt = m.now()
	m.trails[id] = t
	return true, nil
}

func (m *memStore) ClaimClosing(_ context.Context, id uuid.UUID, lease time.Duration) (domain.TrailState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	if !ok {
		return "", false, nil
	}
	expired := t.State == domain.TrailClosing && m.now().Sub(t.UpdatedAt) > lease
	if !t.State.Closable() && !expired {
		return "", false, nil
	}
	prior := t.State
	t.State = domain.TrailClosing
	t.UpdatedAt = m.now()
	m.trails[id] = t
	return prior, true, nil
}

func (m *memStore) Close(_ context.Context, id uuid.UUID, c repo.Closure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	t, ok := m.trails[id]
	if !ok || t.State != domain.TrailClosing {
		return domain.ErrInvalidState
	}
	end := c.EndTime
	t.State = domain.TrailClosed
	t.EndTime = &end
	t.Path = c.Path
	t.DetailedPath = c.DetailedPath
	t.MetricsMode = c.MetricsMode
	m.trails[id] = t
	delete(m.points, id)
	return nil
}

func (m *memStore) Discard(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	if !ok || t.State != domain.TrailClosing {
		return domain.ErrNotFound
	}
	delete(m.trails, id)
	delete(m.points, id)
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trails[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.trails, id)
	delete(m.points, id)
	return nil
}

func (m *memStore) SaveMetrics(_ context.Context, id uuid.UUID, metrics domain.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	if !ok || t.State != domain.TrailClosed {
		return domain.ErrNotFound
	}
	t.Metrics = &metrics
	m.trails[id] = t
	return nil
}

func (m *memStore) ListPendingMetrics(_ context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []domain.Trail
	for _, t := range m.trails {
		if t.EndTime != nil && t.Metrics == nil {
			pending = append(pending, t)
		}
	}
	slices.SortFunc(pending, func(a, b domain.Trail) int { return a.EndTime.Compare(*b.EndTime) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	ids := make([]uuid.UUID, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
	}
	return ids, nil
}

func (m *memStore) MetricsStatus(_ context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var closed, with int64
	for _, t := range m.trails {
		if t.EndTime != nil {
			closed++
			if t.Metrics != nil {
				with++
			}
		}
	}
	return closed, with, nil
}

func (m *memStore) Append(_ context.Context, id uuid.UUID, points []domain.Point) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trails[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if t.State != domain.TrailOpen {
		return 0, domain.ErrInvalidState
	}
	buf := m.points[id]
	if len(buf) > 0 && points[0].Timestamp < buf[len(buf)-1].Timestamp {
		return 0, domain.ErrValidation
	}
	m.points[id] = append(buf, points...)
	return int64(len(points)), nil
}

func (m *memStore) List(_ context.Context, id uuid.UUID) ([]domain.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.points[id]), nil
}

func (m *memStore) Last(_ context.Context, id uuid.UUID) (*domain.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.points[id]
	if len(buf) == 0 {
		return nil, nil
	}
	p := buf[len(buf)-1]
	return &p, nil
}

// buffered returns the number of points held for id.
func (m *memStore) buffered(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[id])
}

func sortNewestFirst(trails []domain.Trail) {
	slices.SortFunc(trails, func(a, b domain.Trail) int { return b.StartTime.Compare(a.StartTime) })
}

// mockTrailRepo is a hand-written test double for repo.TrailRepo. It embeds
// a memStore for the methods a test leaves unset.
type mockTrailRepo struct {
	*memStore
	getByID      func(ctx context.Context, id uuid.UUID) (domain.Trail, error)
	claimClosing func(ctx context.Context, id uuid.UUID, lease time.Duration) (domain.TrailState, bool, error)
	close        func(ctx context.Context, id uuid.UUID, c repo.Closure) error
	saveMetrics  func(ctx context.Context, id uuid.UUID, m domain.Metrics) error
	listOpen     func(ctx context.Context, vehicleID string, operationID *string) ([]domain.Trail, error)
}

func (m *mockTrailRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trail, error) {
	if m.getByID != nil {
		return m.getByID(ctx, id)
	}
	return m.memStore.GetByID(ctx, id)
}
func (m *mockTrailRepo) ClaimClosing(ctx context.Context, id uuid.UUID, lease time.Duration) (domain.TrailState, bool, error) {
	if m.claimClosing != nil {
		return m.claimClosing(ctx, id, lease)
	}
	return m.memStore.ClaimClosing(ctx, id, lease)
}
func (m *mockTrailRepo) Close(ctx context.Context, id uuid.UUID, c repo.Closure) error {
	if m.close != nil {
		return m.close(ctx, id, c)
	}
	return m.memStore.Close(ctx, id, c)
}
func (m *mockTrailRepo) SaveMetrics(ctx context.Context, id uuid.UUID, metrics domain.Metrics) error {
	if m.saveMetrics != nil {
		return m.saveMetrics(ctx, id, metrics)
	}
	return m.memStore.SaveMetrics(ctx, id, metrics)
}
func (m *mockTrailRepo) ListOpen(ctx context.Context, vehicleID string, operationID *string) ([]domain.Trail, error) {
	if m.listOpen != nil {
		return m.listOpen(ctx, vehicleID, operationID)
	}
	return m.memStore.ListOpen(ctx, vehicleID, operationID)
}

// compile-time check: mockTrailRepo must satisfy repo.TrailRepo.
var _ repo.TrailRepo = (*mockTrailRepo)(nil)

// mockPointRepo is a hand-written test double for repo.PointRepo.
type mockPointRepo struct {
	*memStore
	last func(ctx context.Context, id uuid.UUID) (*domain.Point, error)
}

func (m *mockPointRepo) Last(ctx context.Context, id uuid.UUID) (*domain.Point, error) {
	if m.last != nil {
		return m.last(ctx, id)
	}
	return m.memStore.Last(ctx, id)
}

var _ repo.PointRepo = (*mockPointRepo)(nil)

// mockComputer is a test double for service.MetricsComputer.
type mockComputer struct {
	mu      sync.Mutex
	calls   []domain.MetricsMode
	compute func(ctx context.Context, id uuid.UUID, mode domain.MetricsMode) (domain.Metrics, error)
}

func (m *mockComputer) Compute(ctx context.Context, id uuid.UUID, mode domain.MetricsMode) (domain.Metrics, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mode)
	m.mu.Unlock()
	if m.compute != nil {
		return m.compute(ctx, id, mode)
	}
	return domain.Metrics{DistanceMeters: 100, AreaHectares: 0.1}, nil
}

func (m *mockComputer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockComputer) modes() []domain.MetricsMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// recordingDispatcher collects dispatched ids instead of running anything.
type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func (d *recordingDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.ids)
}

// ---- fixtures --------------------------------------------------------------

var epoch = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openTrail(vehicle, operation string, start time.Time) domain.Trail {
	return domain.Trail{
		VehicleID:   vehicle,
		OperationID: operation,
		State:       domain.TrailOpen,
		StartTime:   start,
		Style:       domain.TrailStyle{Color: "#00AA00", Width: 12},
		MetricsMode: domain.MetricsDetailed,
	}
}

// track returns n points heading east one second apart, zigzagging slightly
// so simplification keeps some interior vertices.
func track(n int, from time.Time) []domain.Point {
	points := make([]domain.Point, n)
	for i := range points {
		points[i] = domain.Point{
			Longitude: -93.5 + float64(i)*0.0001,
			Latitude:  42.0 + float64(i%2)*0.0001,
			Timestamp: from.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
	}
	return points
}

// straightTrack returns n collinear points one second apart.
func straightTrack(n int, from time.Time) []domain.Point {
	points := make([]domain.Point, n)
	for i := range points {
		points[i] = domain.Point{
			Longitude: -93.5 + float64(i)*0.00001,
			Latitude:  42.0,
			Timestamp: from.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
	}
	return points
}
