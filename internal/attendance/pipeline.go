package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/models"
	"github.com/veriloc/backend/internal/sessions"
	"github.com/veriloc/backend/internal/token"
)

// SessionStore resolves sessions referenced by pass payloads.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error)
}

// NonceRecorder is the per-session replay ledger. Record must be a single
// atomic check-and-insert and return sessions.ErrNonceUsed on replay.
type NonceRecorder interface {
	Record(ctx context.Context, sessionID uuid.UUID, nonce string, now time.Time) error
}

// CohortStore resolves the required department for a cohort.
type CohortStore interface {
	GetByCode(ctx context.Context, code string) (*models.Cohort, error)
}

// RecordStore persists attendance records under the storage-level uniqueness
// constraint.
type RecordStore interface {
	Exists(ctx context.Context, studentID uuid.UUID, cohortCode, dateKey string) (bool, error)
	Create(ctx context.Context, rec *models.AttendanceRecord) error
}

// Pipeline turns a scanned pass into a durable attendance record. Each stage
// short-circuits: verify, session lookup, active check, presenter check,
// replay ledger, cohort authorization, uniqueness-constrained write.
type Pipeline struct {
	passes   *token.Service
	sessions SessionStore
	ledger   NonceRecorder
	cohorts  CohortStore
	records  RecordStore
	logger   *zap.Logger
}

// NewPipeline creates a redemption pipeline.
func NewPipeline(passes *token.Service, sessionStore SessionStore, ledger NonceRecorder, cohortStore CohortStore, recordStore RecordStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		passes:   passes,
		sessions: sessionStore,
		ledger:   ledger,
		cohorts:  cohortStore,
		records:  recordStore,
		logger:   logger,
	}
}

// Redeem validates the scanned pass and records attendance exactly once per
// (attendee, cohort, day). If the record write fails after the nonce was
// consumed, the nonce stays consumed: replay safety wins over
// retry-friendliness within the pass's own lifetime.
func (p *Pipeline) Redeem(ctx context.Context, studentID uuid.UUID, studentDept, wire string, now time.Time) (*models.AttendanceRecord, error) {
	payload, err := p.passes.Verify(wire, now)
	if err != nil {
		return nil, err
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return nil, token.ErrIncompletePayload
	}
	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if session == nil {
		return nil, ErrUnknownSession
	}
	if !session.IsActive {
		return nil, ErrSessionClosed
	}
	if session.PresenterID.String() != payload.PresenterID {
		return nil, ErrPresenterMismatch
	}

	if err := p.ledger.Record(ctx, session.ID, payload.Nonce, now); err != nil {
		if errors.Is(err, sessions.ErrNonceUsed) {
			return nil, ErrReplay
		}
		return nil, fmt.Errorf("replay ledger: %w", err)
	}

	cohort, err := p.cohorts.GetByCode(ctx, session.CohortCode)
	if err != nil {
		return nil, fmt.Errorf("cohort lookup: %w", err)
	}
	if cohort == nil {
		return nil, fmt.Errorf("cohort %q missing for session %s", session.CohortCode, session.ID)
	}
	if !strings.EqualFold(cohort.Department, studentDept) {
		return nil, ErrCohortMismatch
	}

	dateKey := models.DateKeyFor(now)
	// Advisory fast path; the unique constraint below is authoritative.
	if exists, err := p.records.Exists(ctx, studentID, session.CohortCode, dateKey); err == nil && exists {
		return nil, ErrDuplicateRecord
	}

	rec := &models.AttendanceRecord{
		StudentID:  studentID,
		CohortCode: session.CohortCode,
		SessionID:  session.ID,
		DateKey:    dateKey,
		MarkedAt:   now,
	}
	if err := p.records.Create(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicateRecord) {
			p.logger.Error("attendance write failed after nonce consumed",
				zap.Error(err), zap.String("session_id", session.ID.String()))
		}
		return nil, err
	}
	return rec, nil
}

// Percentage returns attended/totalDates as a percentage rounded to two
// decimal places. Zero held dates yields zero.
func Percentage(attended, totalDates int) float64 {
	if totalDates <= 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(totalDates)*100*100) / 100
}
