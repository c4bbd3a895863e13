package models

import (
	"time"

	"github.com/google/uuid"
)

// Report export status values.
const (
	ReportStatusPending   = "pending"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// Report is an attendance CSV export request for a cohort over a date range.
// The worker renders the CSV and uploads it to S3; S3Key is set on completion.
type Report struct {
	ID          uuid.UUID  `json:"id"`
	CohortCode  string     `json:"cohort_code"`
	FromDate    string     `json:"from_date"`
	ToDate      string     `json:"to_date"`
	Status      string     `json:"status"`
	S3Key       string     `json:"-"`
	RequestedBy uuid.UUID  `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
