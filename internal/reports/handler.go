package reports

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/cohorts"
	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/internal/models"
	"github.com/veriloc/backend/pkg/queue"
	"github.com/veriloc/backend/pkg/response"
	"github.com/veriloc/backend/pkg/storage"
)

// CreateRequest is the body for POST /reports.
type CreateRequest struct {
	CohortCode string `json:"cohort_code" binding:"required"`
	FromDate   string `json:"from_date" binding:"required"`
	ToDate     string `json:"to_date" binding:"required"`
}

// Handler handles report export endpoints. S3 may be nil when object storage
// is not configured; report creation is refused in that case.
type Handler struct {
	repo       *Repository
	cohortRepo *cohorts.Repository
	jobs       *queue.Queue
	s3         *storage.S3
	logger     *zap.Logger
}

// NewHandler creates a reports handler.
func NewHandler(repo *Repository, cohortRepo *cohorts.Repository, jobs *queue.Queue, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, cohortRepo: cohortRepo, jobs: jobs, s3: s3, logger: logger}
}

// Create handles POST /reports (presenter only). Persists the request and
// enqueues the export job for the worker.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if h.s3 == nil {
		response.FailWithCode(c, http.StatusServiceUnavailable, "exports_disabled", "report exports are not configured")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	from, err := time.Parse(models.DateKeyFormat, req.FromDate)
	if err != nil {
		response.BadRequest(c, "from_date must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(models.DateKeyFormat, req.ToDate)
	if err != nil {
		response.BadRequest(c, "to_date must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		response.BadRequest(c, "to_date before from_date")
		return
	}

	ctx := c.Request.Context()
	cohort, err := h.cohortRepo.GetByCode(ctx, req.CohortCode)
	if err != nil {
		h.logger.Error("cohort lookup failed", zap.Error(err))
		response.Internal(c, "failed to create report")
		return
	}
	if cohort == nil {
		response.NotFound(c, "cohort not found")
		return
	}

	report := &models.Report{
		CohortCode:  cohort.Code,
		FromDate:    req.FromDate,
		ToDate:      req.ToDate,
		RequestedBy: userID,
	}
	if err := h.repo.Create(ctx, report); err != nil {
		h.logger.Error("create report failed", zap.Error(err))
		response.Internal(c, "failed to create report")
		return
	}
	if err := h.jobs.EnqueueReportExport(ctx, queue.ReportExportPayload{
		ReportID:   report.ID,
		CohortCode: report.CohortCode,
		FromDate:   report.FromDate,
		ToDate:     report.ToDate,
	}); err != nil {
		h.logger.Error("enqueue report job failed", zap.Error(err), zap.String("report_id", report.ID.String()))
		response.Internal(c, "failed to enqueue report")
		return
	}
	response.Created(c, report)
}

// Get handles GET /reports/:id. Only the requester may read it.
func (h *Handler) Get(c *gin.Context) {
	report, ok := h.loadOwned(c)
	if !ok {
		return
	}
	response.OK(c, report)
}

// List handles GET /reports.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.repo.ListByRequester(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list reports failed", zap.Error(err))
		response.Internal(c, "failed to list reports")
		return
	}
	response.OK(c, gin.H{"reports": list, "count": len(list)})
}

// DownloadURL handles GET /reports/:id/download-url for completed reports.
// Guarded like Create: a completed report may exist in the database from a
// time when exports were configured, so presigning without S3 must refuse,
// not panic.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.s3 == nil {
		response.FailWithCode(c, http.StatusServiceUnavailable, "exports_disabled", "report exports are not configured")
		return
	}
	report, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if report.Status != models.ReportStatusCompleted || report.S3Key == "" {
		response.FailWithCode(c, http.StatusConflict, "report_not_ready", "report is not completed")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.ReportsBucket(), report.S3Key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign report failed", zap.Error(err), zap.String("report_id", report.ID.String()))
		response.Internal(c, "failed to presign download")
		return
	}
	response.OK(c, gin.H{
		"download_url": url,
		"expires_in":   int(h.s3.PresignExpire().Seconds()),
	})
}

func (h *Handler) loadOwned(c *gin.Context) (*models.Report, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid report id")
		return nil, false
	}
	report, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get report failed", zap.Error(err))
		response.Internal(c, "failed to load report")
		return nil, false
	}
	if report == nil {
		response.NotFound(c, "report not found")
		return nil, false
	}
	if report.RequestedBy != userID {
		response.Forbidden(c, "not your report")
		return nil, false
	}
	return report, true
}
