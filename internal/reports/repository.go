package reports

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

const reportColumns = `id, cohort_code, from_date, to_date, status, COALESCE(s3_key, ''), requested_by, created_at, completed_at`

// Repository handles report export persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.CohortCode, &r.FromDate, &r.ToDate, &r.Status, &r.S3Key, &r.RequestedBy, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a pending report request.
func (r *Repository) Create(ctx context.Context, report *models.Report) error {
	const q = `INSERT INTO reports (cohort_code, from_date, to_date, status, requested_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q,
		report.CohortCode, report.FromDate, report.ToDate, models.ReportStatusPending, report.RequestedBy).
		Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	report.Status = models.ReportStatusPending
	return nil
}

// GetByID returns a report or (nil, nil) when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	report, err := scanReport(r.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// MarkCompleted records the uploaded object key and flips the status.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, s3Key string, completedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reports SET status = $1, s3_key = $2, completed_at = $3 WHERE id = $4`,
		models.ReportStatusCompleted, s3Key, completedAt, id)
	if err != nil {
		return fmt.Errorf("mark report completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s not found", id)
	}
	return nil
}

// MarkFailed flips the status after retries are exhausted.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE reports SET status = $1 WHERE id = $2`, models.ReportStatusFailed, id); err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return nil
}

// ListByRequester returns the user's report requests, newest first.
func (r *Repository) ListByRequester(ctx context.Context, userID uuid.UUID) ([]models.Report, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE requested_by = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *report)
	}
	return list, rows.Err()
}
