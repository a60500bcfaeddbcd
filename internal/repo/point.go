package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pkordes/trail-engine/internal/domain"
)

// PointRepo defines the persistence operations for the per-trail point
// buffer that accumulates while a trail is open.
type PointRepo interface {
	// Append adds points to an open trail's buffer. points must already be
	// sorted by timestamp. The trail row is locked for the duration so
	// appends never interleave with a closure claim.
	// Returns domain.ErrNotFound, domain.ErrInvalidState when the trail is
	// not open, or domain.ErrValidation when the batch starts before the
	// last buffered point.
	Append(ctx context.Context, trailID uuid.UUID, points []domain.Point) (int64, error)

	// List returns the buffer in arrival order.
	List(ctx context.Context, trailID uuid.UUID) ([]domain.Point, error)

	// Last returns the most recently buffered point, or nil when the buffer
	// is empty.
	Last(ctx context.Context, trailID uuid.UUID) (*domain.Point, error)
}

// pgPointRepo is the Postgres implementation of PointRepo.
type pgPointRepo struct {
	db db
}

// NewPointRepo constructs a PointRepo backed by the provided db connection.
func NewPointRepo(db db) PointRepo {
	return &pgPointRepo{db: db}
}

var pointColumns = []string{"trail_id", "longitude", "latitude", "recorded_at"}

// Append bulk-loads points with COPY inside a transaction that holds the
// trail row lock.
func (r *pgPointRepo) Append(ctx context.Context, trailID uuid.UUID, points []domain.Point) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}

	var copied int64
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx, `SELECT state FROM trails WHERE id = @id FOR UPDATE`, pgx.NamedArgs{"id": trailID}).Scan(&state)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if domain.TrailState(state) != domain.TrailOpen {
			return fmt.Errorf("%w: trail is %s", domain.ErrInvalidState, state)
		}

		var last *int64
		err = tx.QueryRow(ctx, `SELECT max(recorded_at) FROM trail_points WHERE trail_id = @id`, pgx.NamedArgs{"id": trailID}).Scan(&last)
		if err != nil {
			return err
		}
		if last != nil && points[0].Timestamp < *last {
			return fmt.Errorf("%w: batch starts at %d, before last buffered point at %d", domain.ErrValidation, points[0].Timestamp, *last)
		}

		copied, err = tx.CopyFrom(ctx, pgx.Identifier{"trail_points"}, pointColumns,
			pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
				p := points[i]
				return []any{trailID, p.Longitude, p.Latitude, p.Timestamp}, nil
			}))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("repo.PointRepo.Append: %w", err)
	}
	return copied, nil
}

// List returns every buffered point ordered by arrival.
func (r *pgPointRepo) List(ctx context.Context, trailID uuid.UUID) ([]domain.Point, error) {
	const q = `
		SELECT longitude, latitude, recorded_at
		FROM trail_points
		WHERE trail_id = @trail_id
		ORDER BY seq`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trail_id": trailID})
	if err != nil {
		return nil, fmt.Errorf("repo.PointRepo.List: %w", err)
	}
	defer rows.Close()

	points := []domain.Point{}
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.PointRepo.List: scan: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.PointRepo.List: rows: %w", err)
	}
	return points, nil
}

// Last returns the newest buffered point.
func (r *pgPointRepo) Last(ctx context.Context, trailID uuid.UUID) (*domain.Point, error) {
	const q = `
		SELECT longitude, latitude, recorded_at
		FROM trail_points
		WHERE trail_id = @trail_id
		ORDER BY seq DESC
		LIMIT 1`

	p, err := scanPoint(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trail_id": trailID}))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo.PointRepo.Last: %w", err)
	}
	return &p, nil
}

func scanPoint(s scanner) (domain.Point, error) {
	var p domain.Point
	err := s.Scan(&p.Longitude, &p.Latitude, &p.Timestamp)
	return p, err
}
