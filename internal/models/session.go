package models

import (
	"time"

	"github.com/google/uuid"
)

// DateKeyFormat is the calendar-day layout used for daily uniqueness of
// attendance records and session counting.
const DateKeyFormat = "2006-01-02"

// ClassSession is one attendance-taking session run by a presenter.
// At most one session per presenter is active at any time; sessions are never
// deleted, only closed, and retained as history. DateKey is derived once at
// creation and never recomputed.
type ClassSession struct {
	ID          uuid.UUID  `json:"id"`
	CohortCode  string     `json:"cohort_code"`
	PresenterID uuid.UUID  `json:"presenter_id"`
	DateKey     string     `json:"date_key"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// DateKeyFor returns the calendar-day key for a point in time.
func DateKeyFor(t time.Time) string {
	return t.Format(DateKeyFormat)
}
