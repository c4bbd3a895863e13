package attendance

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/internal/sessions"
	"github.com/veriloc/backend/pkg/response"
)

// Feed receives successful redemptions for the presenter's live view.
type Feed interface {
	BroadcastToSession(sessionID uuid.UUID, event string, payload interface{})
}

// ScanRequest is the body for POST /attendance/scan.
type ScanRequest struct {
	Pass string `json:"pass" binding:"required"`
}

// Confirmation is the response for a successful scan.
type Confirmation struct {
	SessionID  uuid.UUID `json:"session_id"`
	CohortCode string    `json:"cohort_code"`
	DateKey    string    `json:"date_key"`
	MarkedAt   time.Time `json:"marked_at"`
}

// Summary is the response for GET /attendance/me.
type Summary struct {
	CohortCode  string  `json:"cohort_code"`
	Attended    int     `json:"attended"`
	ClassesHeld int     `json:"classes_held"`
	Percentage  float64 `json:"percentage"`
}

// Handler handles attendee-facing attendance endpoints and the presenter roll.
type Handler struct {
	pipeline    *Pipeline
	repo        *Repository
	sessionRepo *sessions.Repository
	feed        Feed
	logger      *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(pipeline *Pipeline, repo *Repository, sessionRepo *sessions.Repository, feed Feed, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, repo: repo, sessionRepo: sessionRepo, feed: feed, logger: logger}
}

// Scan handles POST /attendance/scan. One scanned pass, one redemption attempt.
func (h *Handler) Scan(c *gin.Context) {
	studentID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	rec, err := h.pipeline.Redeem(c.Request.Context(), studentID, middleware.UserDepartment(c), req.Pass, time.Now())
	if err != nil {
		kind := Kind(err)
		if kind == "internal" {
			h.logger.Error("redeem failed", zap.Error(err), zap.String("student_id", studentID.String()))
			response.FailWithCode(c, http.StatusInternalServerError, "internal", "unexpected failure, retry with a fresh pass")
			return
		}
		response.FailWithCode(c, statusFor(kind), kind, err.Error())
		return
	}

	if h.feed != nil {
		count, cErr := h.repo.CountBySession(c.Request.Context(), rec.SessionID)
		if cErr != nil {
			h.logger.Warn("redemption count failed", zap.Error(cErr))
		}
		h.feed.BroadcastToSession(rec.SessionID, "checkin", gin.H{
			"student_id": rec.StudentID,
			"marked_at":  rec.MarkedAt,
			"count":      count,
		})
	}

	response.Created(c, Confirmation{
		SessionID:  rec.SessionID,
		CohortCode: rec.CohortCode,
		DateKey:    rec.DateKey,
		MarkedAt:   rec.MarkedAt,
	})
}

// Me handles GET /attendance/me?cohort=CODE. History plus percentage summary.
func (h *Handler) Me(c *gin.Context) {
	studentID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	cohortCode := c.Query("cohort")
	if cohortCode == "" {
		response.BadRequest(c, "cohort query parameter required")
		return
	}

	ctx := c.Request.Context()
	attended, err := h.repo.CountByStudentCohort(ctx, studentID, cohortCode)
	if err != nil {
		h.logger.Error("count attendance failed", zap.Error(err))
		response.Internal(c, "failed to load attendance")
		return
	}
	held, err := h.sessionRepo.CountDistinctDates(ctx, cohortCode)
	if err != nil {
		h.logger.Error("count session dates failed", zap.Error(err))
		response.Internal(c, "failed to load attendance")
		return
	}
	records, err := h.repo.ListByStudent(ctx, studentID, cohortCode)
	if err != nil {
		h.logger.Error("list attendance failed", zap.Error(err))
		response.Internal(c, "failed to load attendance")
		return
	}

	response.OK(c, gin.H{
		"summary": Summary{
			CohortCode:  cohortCode,
			Attended:    attended,
			ClassesHeld: held,
			Percentage:  Percentage(attended, held),
		},
		"records": records,
	})
}

// Roll handles GET /sessions/:id/attendance (presenter only). Only the
// presenter who owns the session may read its roll.
func (h *Handler) Roll(c *gin.Context) {
	presenterID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	session, err := h.sessionRepo.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("session lookup failed", zap.Error(err))
		response.Internal(c, "failed to load roll")
		return
	}
	if session == nil {
		response.NotFound(c, "session not found")
		return
	}
	if session.PresenterID != presenterID {
		response.Forbidden(c, "not your session")
		return
	}

	roll, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list roll failed", zap.Error(err))
		response.Internal(c, "failed to load roll")
		return
	}
	response.OK(c, gin.H{
		"session": session,
		"roll":    roll,
		"count":   len(roll),
	})
}

func statusFor(kind string) int {
	switch kind {
	case "malformed_encoding", "incomplete_payload", "future_timestamp":
		return http.StatusBadRequest
	case "tampered":
		return http.StatusUnauthorized
	case "expired":
		return http.StatusGone
	case "unknown_session":
		return http.StatusNotFound
	case "cohort_mismatch":
		return http.StatusForbidden
	case "session_closed", "presenter_mismatch", "replay", "duplicate_record":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
