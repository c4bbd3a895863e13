package cohorts

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/pkg/response"
)

// CreateRequest is the body for POST /cohorts.
type CreateRequest struct {
	Code       string `json:"code" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Department string `json:"department" binding:"required"`
}

// Handler handles cohort HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a cohorts handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /cohorts (presenter only).
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	co, err := h.repo.Create(c.Request.Context(), req.Code, req.Name, req.Department, userID)
	if errors.Is(err, ErrCodeTaken) {
		response.Conflict(c, "cohort_exists", "cohort code already exists")
		return
	}
	if err != nil {
		h.logger.Error("create cohort failed", zap.Error(err))
		response.Internal(c, "failed to create cohort")
		return
	}
	response.Created(c, co)
}

// List handles GET /cohorts.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list cohorts failed", zap.Error(err))
		response.Internal(c, "failed to list cohorts")
		return
	}
	response.OK(c, list)
}
