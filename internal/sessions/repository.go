package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veriloc/backend/internal/models"
)

const sessionColumns = `id, cohort_code, presenter_id, date_key, started_at, ended_at, is_active`

// Repository handles class session persistence and lifecycle transitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Start opens a new session for the presenter. Any prior active session is
// closed first (last start wins), so a presenter restarting after a crash is
// never blocked. Concurrent starts for the same presenter are serialized with
// a per-presenter advisory lock inside the transaction; the partial unique
// index on (presenter_id) WHERE is_active is the storage backstop.
func (r *Repository) Start(ctx context.Context, presenterID uuid.UUID, cohortCode string, now time.Time) (*models.ClassSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, presenterID.String()); err != nil {
		return nil, fmt.Errorf("presenter lock: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE class_sessions SET is_active = FALSE, ended_at = $2 WHERE presenter_id = $1 AND is_active`,
		presenterID, now); err != nil {
		return nil, fmt.Errorf("close previous session: %w", err)
	}

	var s models.ClassSession
	err = tx.QueryRow(ctx,
		`INSERT INTO class_sessions (cohort_code, presenter_id, date_key, started_at, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING `+sessionColumns,
		cohortCode, presenterID, models.DateKeyFor(now), now).
		Scan(&s.ID, &s.CohortCode, &s.PresenterID, &s.DateKey, &s.StartedAt, &s.EndedAt, &s.IsActive)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &s, nil
}

// Stop closes the presenter's active session. Returns ErrNoActiveSession when
// there is none.
func (r *Repository) Stop(ctx context.Context, presenterID uuid.UUID, now time.Time) (*models.ClassSession, error) {
	var s models.ClassSession
	err := r.pool.QueryRow(ctx,
		`UPDATE class_sessions SET is_active = FALSE, ended_at = $2
		 WHERE presenter_id = $1 AND is_active
		 RETURNING `+sessionColumns,
		presenterID, now).
		Scan(&s.ID, &s.CohortCode, &s.PresenterID, &s.DateKey, &s.StartedAt, &s.EndedAt, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	return &s, nil
}

// ActiveFor returns the presenter's active session, or nil when none exists.
// Served by the partial index, so it stays cheap on the minting hot path.
func (r *Repository) ActiveFor(ctx context.Context, presenterID uuid.UUID) (*models.ClassSession, error) {
	var s models.ClassSession
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE presenter_id = $1 AND is_active`,
		presenterID).
		Scan(&s.ID, &s.CohortCode, &s.PresenterID, &s.DateKey, &s.StartedAt, &s.EndedAt, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return &s, nil
}

// GetByID returns a session by id, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error) {
	var s models.ClassSession
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.CohortCode, &s.PresenterID, &s.DateKey, &s.StartedAt, &s.EndedAt, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// CountDistinctDates returns how many distinct calendar days the cohort has
// held sessions on. Denominator of the attendance percentage.
func (r *Repository) CountDistinctDates(ctx context.Context, cohortCode string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT date_key) FROM class_sessions WHERE cohort_code = $1`, cohortCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session dates: %w", err)
	}
	return n, nil
}

// ListByCohort returns session history for a cohort, newest first.
func (r *Repository) ListByCohort(ctx context.Context, cohortCode string) ([]models.ClassSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE cohort_code = $1 ORDER BY started_at DESC`,
		cohortCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ClassSession
	for rows.Next() {
		var s models.ClassSession
		if err := rows.Scan(&s.ID, &s.CohortCode, &s.PresenterID, &s.DateKey, &s.StartedAt, &s.EndedAt, &s.IsActive); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
