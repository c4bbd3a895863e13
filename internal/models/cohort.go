package models

import (
	"time"

	"github.com/google/uuid"
)

// Cohort is the group (subject/class) an attendance session is scoped to.
// Department is the required department an attendee must belong to for a
// redemption against this cohort to be authorized.
type Cohort struct {
	ID         uuid.UUID `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	CreatedBy  uuid.UUID `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}
