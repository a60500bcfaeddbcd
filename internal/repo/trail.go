package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/geometry"
)

// Closure is the fast-closure write: everything that must become visible
// together when a trail is closed.
type Closure struct {
	EndTime      time.Time
	Path         []domain.Point
	DetailedPath []domain.Point
	MetricsMode  domain.MetricsMode
}

// TrailRepo defines the persistence operations for Trails.
// The service layer depends on this interface, not the concrete Postgres
// implementation, which allows services to be unit-tested with a mock.
type TrailRepo interface {
	// Create inserts a new open trail and returns the persisted record.
	Create(ctx context.Context, trail domain.Trail) (domain.Trail, error)

	// GetByID retrieves a trail including its geometry.
	// Returns domain.ErrNotFound if no trail with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trail, error)

	// ListPaged returns one page of trails (without geometry) matching f,
	// newest first, and the total number of matches.
	ListPaged(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error)

	// ListOpen returns every trail without an end_time for the vehicle, newest
	// start_time first. A nil operationID spans all of the vehicle's operations.
	ListOpen(ctx context.Context, vehicleID string, operationID *string) ([]domain.Trail, error)

	// ListOpenScopes returns every (vehicle, operation) pair holding at least
	// one trail without an end_time. An empty operationID spans all operations;
	// excludeVehicleID, when set, is left out.
	ListOpenScopes(ctx context.Context, operationID, excludeVehicleID string) ([]domain.Scope, error)

	// Transition moves a trail to state `to` only if its current state is one
	// of from. It reports whether the row changed.
	Transition(ctx context.Context, id uuid.UUID, to domain.TrailState, from ...domain.TrailState) (bool, error)

	// ClaimClosing moves an open or stale trail to closing and returns the
	// state it came from. A trail left in closing for longer than lease is
	// reclaimed as well. ok is false when the trail is missing or not claimable.
	ClaimClosing(ctx context.Context, id uuid.UUID, lease time.Duration) (prior domain.TrailState, ok bool, err error)

	// Close persists the fast-closure write and deletes the point buffer in
	// one transaction. The trail must be in the closing state.
	Close(ctx context.Context, id uuid.UUID, c Closure) error

	// Discard deletes a closing trail and its buffer.
	// Returns domain.ErrNotFound if there is nothing to delete.
	Discard(ctx context.Context, id uuid.UUID) error

	// Delete removes a trail in any state. Returns domain.ErrNotFound if it
	// does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// SaveMetrics stores spatial metrics on a closed trail.
	SaveMetrics(ctx context.Context, id uuid.UUID, m domain.Metrics) error

	// ListPendingMetrics returns ids of closed trails without metrics, oldest
	// closure first. limit <= 0 returns all of them.
	ListPendingMetrics(ctx context.Context, limit int) ([]uuid.UUID, error)

	// MetricsStatus counts closed trails and how many of them have metrics.
	MetricsStatus(ctx context.Context) (closed, withMetrics int64, err error)
}

// pgTrailRepo is the Postgres implementation of TrailRepo.
type pgTrailRepo struct {
	db db
}

// NewTrailRepo constructs a TrailRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTrailRepo(db db) TrailRepo {
	return &pgTrailRepo{db: db}
}

// trailColumns selects every field including geometry as EWKB.
const trailColumns = `
	id, vehicle_id, operation_id, state, start_time, end_time,
	trail_color, trail_width, metrics_mode,
	trail_distance, trail_hectares, trail_hectares_overlap, trail_percentage_overlap,
	ST_AsEWKB(path), ST_AsEWKB(detailed_path), created_at, updated_at`

// trailSummaryColumns has the same shape as trailColumns but skips geometry,
// which can run to hundreds of thousands of vertices.
const trailSummaryColumns = `
	id, vehicle_id, operation_id, state, start_time, end_time,
	trail_color, trail_width, metrics_mode,
	trail_distance, trail_hectares, trail_hectares_overlap, trail_percentage_overlap,
	NULL::bytea, NULL::bytea, created_at, updated_at`

// Create inserts a new trail row and returns the full persisted record.
func (r *pgTrailRepo) Create(ctx context.Context, trail domain.Trail) (domain.Trail, error) {
	const q = `
		INSERT INTO trails (vehicle_id, operation_id, start_time, trail_color, trail_width, metrics_mode)
		VALUES (@vehicle_id, @operation_id, @start_time, @trail_color, @trail_width, @metrics_mode)
		RETURNING ` + trailColumns

	args := pgx.NamedArgs{
		"vehicle_id":   trail.VehicleID,
		"operation_id": trail.OperationID,
		"start_time":   trail.StartTime,
		"trail_color":  trail.Style.Color,
		"trail_width":  trail.Style.Width,
		"metrics_mode": string(trail.MetricsMode),
	}

	result, err := scanTrail(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trail{}, fmt.Errorf("repo.TrailRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a trail by primary key.
func (r *pgTrailRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trail, error) {
	const q = `SELECT ` + trailColumns + ` FROM trails WHERE id = @id`

	result, err := scanTrail(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trail{}, fmt.Errorf("repo.TrailRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListPaged returns one page of trails matching the filter.
func (r *pgTrailRepo) ListPaged(ctx context.Context, f domain.TrailFilter, p domain.PaginationParams) ([]domain.Trail, int64, error) {
	const where = `
		WHERE (@vehicle_id = '' OR vehicle_id = @vehicle_id)
		  AND (@operation_id = '' OR operation_id = @operation_id)
		  AND (@state = '' OR state = @state)`

	args := pgx.NamedArgs{
		"vehicle_id":   f.VehicleID,
		"operation_id": f.OperationID,
		"state":        string(f.State),
		"limit":        p.Limit,
		"offset":       p.Offset(),
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM trails`+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TrailRepo.ListPaged: count: %w", err)
	}

	q := `SELECT ` + trailSummaryColumns + ` FROM trails` + where + `
		ORDER BY start_time DESC
		LIMIT @limit OFFSET @offset`

	trails, err := r.queryTrails(ctx, q, args)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TrailRepo.ListPaged: %w", err)
	}
	return trails, total, nil
}

// ListOpen returns the vehicle's open trails, newest first.
func (r *pgTrailRepo) ListOpen(ctx context.Context, vehicleID string, operationID *string) ([]domain.Trail, error) {
	const q = `
		SELECT ` + trailSummaryColumns + `
		FROM trails
		WHERE end_time IS NULL
		  AND vehicle_id = @vehicle_id
		  AND (@operation_id::text IS NULL OR operation_id = @operation_id)
		ORDER BY start_time DESC, created_at DESC`

	trails, err := r.queryTrails(ctx, q, pgx.NamedArgs{"vehicle_id": vehicleID, "operation_id": operationID})
	if err != nil {
		return nil, fmt.Errorf("repo.TrailRepo.ListOpen: %w", err)
	}
	return trails, nil
}

// ListOpenScopes returns the distinct scopes holding open trails.
func (r *pgTrailRepo) ListOpenScopes(ctx context.Context, operationID, excludeVehicleID string) ([]domain.Scope, error) {
	const q = `
		SELECT DISTINCT vehicle_id, operation_id
		FROM trails
		WHERE end_time IS NULL
		  AND (@operation_id = '' OR operation_id = @operation_id)
		  AND (@exclude_vehicle_id = '' OR vehicle_id <> @exclude_vehicle_id)
		ORDER BY vehicle_id, operation_id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"operation_id": operationID, "exclude_vehicle_id": excludeVehicleID})
	if err != nil {
		return nil, fmt.Errorf("repo.TrailRepo.ListOpenScopes: %w", err)
	}
	defer rows.Close()

	scopes := []domain.Scope{}
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(&s.VehicleID, &s.OperationID); err != nil {
			return nil, fmt.Errorf("repo.TrailRepo.ListOpenScopes: scan: %w", err)
		}
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TrailRepo.ListOpenScopes: rows: %w", err)
	}
	return scopes, nil
}

// Transition performs a compare-and-set on the state column.
func (r *pgTrailRepo) Transition(ctx context.Context, id uuid.UUID, to domain.TrailState, from ...domain.TrailState) (bool, error) {
	const q = `
		UPDATE trails
		SET state = @to, updated_at = now()
		WHERE id = @id AND state = ANY(@from)`

	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "to": string(to), "from": fromStates})
	if err != nil {
		return false, fmt.Errorf("repo.TrailRepo.Transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimClosing locks the row, checks its state and moves it to closing.
func (r *pgTrailRepo) ClaimClosing(ctx context.Context, id uuid.UUID, lease time.Duration) (domain.TrailState, bool, error) {
	const q = `
		WITH prev AS (
			SELECT id, state, updated_at FROM trails WHERE id = @id FOR UPDATE
		)
		UPDATE trails t
		SET state = 'closing', updated_at = now()
		FROM prev
		WHERE t.id = prev.id
		  AND (prev.state IN ('open', 'stale')
		       OR (prev.state = 'closing' AND prev.updated_at < now() - make_interval(secs => @lease_seconds)))
		RETURNING prev.state`

	var prior string
	err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "lease_seconds": lease.Seconds()}).Scan(&prior)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("repo.TrailRepo.ClaimClosing: %w", err)
	}
	return domain.TrailState(prior), true, nil
}

// Close writes end_time, path and detailed_path and drops the buffer as one
// unit of work. Either every change is visible afterwards or none is.
func (r *pgTrailRepo) Close(ctx context.Context, id uuid.UUID, c Closure) error {
	path, err := geometry.EncodePath(c.Path)
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.Close: %w", err)
	}
	detailed, err := geometry.EncodeDetailedPath(c.DetailedPath)
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.Close: %w", err)
	}

	const closeTrail = `
		UPDATE trails
		SET state         = 'closed',
		    end_time      = @end_time,
		    path          = ST_GeomFromEWKB(@path),
		    detailed_path = ST_GeomFromEWKB(@detailed_path),
		    metrics_mode  = @metrics_mode,
		    updated_at    = now()
		WHERE id = @id AND state = 'closing'`

	const dropBuffer = `DELETE FROM trail_points WHERE trail_id = @id`

	err = withTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, closeTrail, pgx.NamedArgs{
			"id":            id,
			"end_time":      c.EndTime,
			"path":          path,
			"detailed_path": detailed,
			"metrics_mode":  string(c.MetricsMode),
		})
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: trail is not closing", domain.ErrInvalidState)
		}
		_, err = tx.Exec(ctx, dropBuffer, pgx.NamedArgs{"id": id})
		return err
	})
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.Close: %w", err)
	}
	return nil
}

// Discard deletes a closing trail. Its trail_points rows go with it
// (ON DELETE CASCADE).
func (r *pgTrailRepo) Discard(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM trails WHERE id = @id AND state = 'closing'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.Discard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TrailRepo.Discard: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a trail by primary key regardless of state.
func (r *pgTrailRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM trails WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TrailRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

// SaveMetrics updates the metrics columns of a closed trail.
func (r *pgTrailRepo) SaveMetrics(ctx context.Context, id uuid.UUID, m domain.Metrics) error {
	const q = `
		UPDATE trails
		SET trail_distance           = @distance,
		    trail_hectares           = @hectares,
		    trail_hectares_overlap   = @overlap,
		    trail_percentage_overlap = @percentage,
		    updated_at               = now()
		WHERE id = @id AND state = 'closed'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         id,
		"distance":   m.DistanceMeters,
		"hectares":   m.AreaHectares,
		"overlap":    m.OverlapHectares,
		"percentage": m.OverlapPercentage,
	})
	if err != nil {
		return fmt.Errorf("repo.TrailRepo.SaveMetrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TrailRepo.SaveMetrics: %w", domain.ErrNotFound)
	}
	return nil
}

// ListPendingMetrics returns closed trails whose metrics are still null.
func (r *pgTrailRepo) ListPendingMetrics(ctx context.Context, limit int) ([]uuid.UUID, error) {
	const q = `
		SELECT id
		FROM trails
		WHERE end_time IS NOT NULL AND trail_distance IS NULL
		ORDER BY end_time
		LIMIT CASE WHEN @limit > 0 THEN @limit END`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo.TrailRepo.ListPendingMetrics: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo.TrailRepo.ListPendingMetrics: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TrailRepo.ListPendingMetrics: rows: %w", err)
	}
	return ids, nil
}

// MetricsStatus counts closed trails with and without metrics.
func (r *pgTrailRepo) MetricsStatus(ctx context.Context) (int64, int64, error) {
	const q = `
		SELECT count(*) FILTER (WHERE end_time IS NOT NULL),
		       count(*) FILTER (WHERE end_time IS NOT NULL AND trail_distance IS NOT NULL)
		FROM trails`

	var closed, withMetrics int64
	if err := r.db.QueryRow(ctx, q).Scan(&closed, &withMetrics); err != nil {
		return 0, 0, fmt.Errorf("repo.TrailRepo.MetricsStatus: %w", err)
	}
	return closed, withMetrics, nil
}

func (r *pgTrailRepo) queryTrails(ctx context.Context, q string, args pgx.NamedArgs) ([]domain.Trail, error) {
	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trails := []domain.Trail{}
	for rows.Next() {
		t, err := scanTrail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		trails = append(trails, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return trails, nil
}

// scanTrail maps a single database row into a domain.Trail.
// It handles the nullable metrics columns and decodes EWKB geometry.
func scanTrail(s scanner) (domain.Trail, error) {
	var (
		t                                    domain.Trail
		state, mode                          string
		distance, hectares, overlap, percent *float64
		path, detailed                       []byte
	)

	err := s.Scan(
		&t.ID, &t.VehicleID, &t.OperationID, &state, &t.StartTime, &t.EndTime,
		&t.Style.Color, &t.Style.Width, &mode,
		&distance, &hectares, &overlap, &percent,
		&path, &detailed, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trail{}, domain.ErrNotFound
		}
		return domain.Trail{}, err
	}

	t.State = domain.TrailState(state)
	t.MetricsMode = domain.MetricsMode(mode)
	if distance != nil {
		t.Metrics = &domain.Metrics{
			DistanceMeters:    *distance,
			AreaHectares:      deref(hectares),
			OverlapHectares:   deref(overlap),
			OverlapPercentage: deref(percent),
		}
	}

	if t.Path, err = geometry.DecodeLine(path); err != nil {
		return domain.Trail{}, err
	}
	if t.DetailedPath, err = geometry.DecodeLine(detailed); err != nil {
		return domain.Trail{}, err
	}
	return t, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
