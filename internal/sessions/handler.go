package sessions

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/cohorts"
	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/internal/token"
	"github.com/veriloc/backend/pkg/response"
)

// AttendanceCounter reports how many redemptions a session produced.
type AttendanceCounter interface {
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// StartRequest is the body for POST /sessions/start.
type StartRequest struct {
	CohortCode string `json:"cohort_code" binding:"required"`
}

// SessionSummary is the response for start/stop.
type SessionSummary struct {
	ID          uuid.UUID  `json:"id"`
	CohortCode  string     `json:"cohort_code"`
	DateKey     string     `json:"date_key"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	IsActive    bool       `json:"is_active"`
	Redemptions int        `json:"redemptions"`
}

// Handler handles presenter session endpoints.
type Handler struct {
	repo       *Repository
	cohortRepo *cohorts.Repository
	counter    AttendanceCounter
	passes     *token.Service
	qrSize     int
	logger     *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, cohortRepo *cohorts.Repository, counter AttendanceCounter, passes *token.Service, qrSize int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, cohortRepo: cohortRepo, counter: counter, passes: passes, qrSize: qrSize, logger: logger}
}

// Start handles POST /sessions/start. Closes any prior active session for the
// presenter before opening the new one.
func (h *Handler) Start(c *gin.Context) {
	presenterID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cohort, err := h.cohortRepo.GetByCode(c.Request.Context(), req.CohortCode)
	if err != nil {
		h.logger.Error("cohort lookup failed", zap.Error(err))
		response.Internal(c, "failed to start session")
		return
	}
	if cohort == nil {
		response.NotFound(c, "cohort not found")
		return
	}

	s, err := h.repo.Start(c.Request.Context(), presenterID, cohort.Code, time.Now())
	if err != nil {
		h.logger.Error("start session failed", zap.Error(err), zap.String("presenter_id", presenterID.String()))
		response.Internal(c, "failed to start session")
		return
	}
	response.Created(c, SessionSummary{
		ID: s.ID, CohortCode: s.CohortCode, DateKey: s.DateKey,
		StartedAt: s.StartedAt, EndedAt: s.EndedAt, IsActive: s.IsActive,
	})
}

// Stop handles POST /sessions/stop. The summary carries the final redemption
// count for the closed session.
func (h *Handler) Stop(c *gin.Context) {
	presenterID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s, err := h.repo.Stop(c.Request.Context(), presenterID, time.Now())
	if err == ErrNoActiveSession {
		response.FailWithCode(c, 404, "no_active_session", "no active session to stop")
		return
	}
	if err != nil {
		h.logger.Error("stop session failed", zap.Error(err), zap.String("presenter_id", presenterID.String()))
		response.Internal(c, "failed to stop session")
		return
	}
	count, err := h.counter.CountBySession(c.Request.Context(), s.ID)
	if err != nil {
		h.logger.Warn("redemption count failed", zap.Error(err), zap.String("session_id", s.ID.String()))
	}
	response.OK(c, SessionSummary{
		ID: s.ID, CohortCode: s.CohortCode, DateKey: s.DateKey,
		StartedAt: s.StartedAt, EndedAt: s.EndedAt, IsActive: s.IsActive,
		Redemptions: count,
	})
}

// MintQR handles GET /sessions/qr. The presenter client polls this every
// couple of seconds; each response carries a freshly signed pass rendered as
// a QR symbol at the highest error-correction level.
func (h *Handler) MintQR(c *gin.Context) {
	presenterID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s, err := h.repo.ActiveFor(c.Request.Context(), presenterID)
	if err != nil {
		h.logger.Error("active session lookup failed", zap.Error(err))
		response.Internal(c, "failed to mint pass")
		return
	}
	if s == nil {
		response.FailWithCode(c, 404, "no_active_session", "start a session before minting passes")
		return
	}

	now := time.Now()
	wire, err := h.passes.Mint(s.ID, presenterID, s.CohortCode, now)
	if err != nil {
		h.logger.Error("mint pass failed", zap.Error(err), zap.String("session_id", s.ID.String()))
		response.Internal(c, "failed to mint pass")
		return
	}
	png, err := qrcode.Encode(wire, qrcode.Highest, h.qrSize)
	if err != nil {
		h.logger.Error("render qr failed", zap.Error(err), zap.String("session_id", s.ID.String()))
		response.Internal(c, "failed to render pass")
		return
	}
	response.OK(c, gin.H{
		"qr_data_uri": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"session_id":  s.ID,
		"cohort_code": s.CohortCode,
		"minted_at":   now.UnixMilli(),
	})
}

// History handles GET /sessions?cohort=CODE. Session history for a cohort.
func (h *Handler) History(c *gin.Context) {
	cohortCode := c.Query("cohort")
	if cohortCode == "" {
		response.BadRequest(c, "cohort query parameter required")
		return
	}
	list, err := h.repo.ListByCohort(c.Request.Context(), cohortCode)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}
