package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord marks one attendee present for one cohort on one day.
// The triple (StudentID, CohortCode, DateKey) is unique across all time,
// enforced by the database, never only by application pre-checks.
type AttendanceRecord struct {
	ID         uuid.UUID `json:"id"`
	StudentID  uuid.UUID `json:"student_id"`
	CohortCode string    `json:"cohort_code"`
	SessionID  uuid.UUID `json:"session_id"`
	DateKey    string    `json:"date_key"`
	MarkedAt   time.Time `json:"marked_at"`
}
