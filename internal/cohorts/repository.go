package cohorts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veriloc/backend/internal/models"
)

// ErrCodeTaken means a cohort with the same code already exists.
var ErrCodeTaken = errors.New("cohort code already exists")

// Repository handles cohort persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a cohorts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a cohort.
func (r *Repository) Create(ctx context.Context, code, name, department string, createdBy uuid.UUID) (*models.Cohort, error) {
	const q = `INSERT INTO cohorts (code, name, department, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, code, name, department, created_by, created_at`
	var co models.Cohort
	err := r.pool.QueryRow(ctx, q, code, name, department, createdBy).
		Scan(&co.ID, &co.Code, &co.Name, &co.Department, &co.CreatedBy, &co.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert cohort: %w", err)
	}
	return &co, nil
}

// GetByCode returns a cohort by its code, or nil when absent.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Cohort, error) {
	const q = `SELECT id, code, name, department, created_by, created_at FROM cohorts WHERE code = $1`
	var co models.Cohort
	err := r.pool.QueryRow(ctx, q, code).
		Scan(&co.ID, &co.Code, &co.Name, &co.Department, &co.CreatedBy, &co.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cohort: %w", err)
	}
	return &co, nil
}

// List returns all cohorts ordered by code.
func (r *Repository) List(ctx context.Context) ([]models.Cohort, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, department, created_by, created_at FROM cohorts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Cohort
	for rows.Next() {
		var co models.Cohort
		if err := rows.Scan(&co.ID, &co.Code, &co.Name, &co.Department, &co.CreatedBy, &co.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, co)
	}
	return list, rows.Err()
}
