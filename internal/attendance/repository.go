package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veriloc/backend/internal/models"
)

// Repository handles attendance record persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an attendance record. A unique-constraint violation on
// (student_id, cohort_code, date_key) is surfaced as ErrDuplicateRecord; the
// constraint, not any pre-check, serializes concurrent redemptions.
func (r *Repository) Create(ctx context.Context, rec *models.AttendanceRecord) error {
	const q = `INSERT INTO attendance_records (student_id, cohort_code, session_id, date_key, marked_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.pool.QueryRow(ctx, q, rec.StudentID, rec.CohortCode, rec.SessionID, rec.DateKey, rec.MarkedAt).
		Scan(&rec.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// Exists reports whether an attendance record already exists for the triple.
// Fast-path optimization only; never relied on for correctness.
func (r *Repository) Exists(ctx context.Context, studentID uuid.UUID, cohortCode, dateKey string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE student_id = $1 AND cohort_code = $2 AND date_key = $3)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, studentID, cohortCode, dateKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("attendance exists: %w", err)
	}
	return exists, nil
}

// CountBySession returns the number of redemptions recorded for a session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// CountByStudentCohort returns how many days the student was marked present
// for the cohort.
func (r *Repository) CountByStudentCohort(ctx context.Context, studentID uuid.UUID, cohortCode string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE student_id = $1 AND cohort_code = $2`,
		studentID, cohortCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}

// ListByStudent returns the student's attendance history for a cohort.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID, cohortCode string) ([]models.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, cohort_code, session_id, date_key, marked_at
		 FROM attendance_records WHERE student_id = $1 AND cohort_code = $2 ORDER BY date_key DESC`,
		studentID, cohortCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CohortCode, &rec.SessionID, &rec.DateKey, &rec.MarkedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// RollRow is one attendee on a session's roll.
type RollRow struct {
	StudentID uuid.UUID `json:"student_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	MarkedAt  time.Time `json:"marked_at"`
}

// ListBySession returns the roll for one session, earliest scan first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]RollRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.student_id, u.full_name, u.email, a.marked_at
		 FROM attendance_records a JOIN users u ON u.id = a.student_id
		 WHERE a.session_id = $1 ORDER BY a.marked_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []RollRow
	for rows.Next() {
		var row RollRow
		if err := rows.Scan(&row.StudentID, &row.FullName, &row.Email, &row.MarkedAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// ExportRow is one line of a cohort attendance CSV export.
type ExportRow struct {
	FullName string
	Email    string
	DateKey  string
	MarkedAt time.Time
}

// ListForExport returns attendance rows for a cohort within [fromDate, toDate]
// (inclusive date keys), ordered for the CSV export.
func (r *Repository) ListForExport(ctx context.Context, cohortCode, fromDate, toDate string) ([]ExportRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.full_name, u.email, a.date_key, a.marked_at
		 FROM attendance_records a JOIN users u ON u.id = a.student_id
		 WHERE a.cohort_code = $1 AND a.date_key BETWEEN $2 AND $3
		 ORDER BY a.date_key, u.full_name`,
		cohortCode, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ExportRow
	for rows.Next() {
		var row ExportRow
		if err := rows.Scan(&row.FullName, &row.Email, &row.DateKey, &row.MarkedAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
