package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/services"
	"github.com/cyberlab-edu/assessment-service/internal/utils"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	exportService  services.ExportService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	exportService services.ExportService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		exportService:  exportService,
		validator:      validator,
	}
}

// StartAttempt starts a new attempt for an assessment
// @Summary Start assessment attempt
// @Description Starts a new attempt for a published assessment
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /assessments/{id}/attempts [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "id")
	if assessmentID == 0 {
		return
	}

	h.LogRequest(c, "Starting assessment attempt", "assessment_id", assessmentID)

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), assessmentID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// SubmitAttempt submits answers for an open attempt
// @Summary Submit assessment attempt
// @Description Submits an attempt with all answers and returns the graded result
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param attempt body services.SubmitAttemptRequest true "Submit attempt data"
// @Success 200 {object} services.AttemptResultResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	h.LogRequest(c, "Submitting assessment attempt", "attempt_id", attemptID)

	var req services.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if errs := h.validator.Validate(&req); errs != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: errs,
		})
		return
	}

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAttempt retrieves an attempt by ID
// @Summary Get attempt
// @Description Retrieves an attempt, with answers and scores when allowed
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResultResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting attempt", "attempt_id", id)

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// ListAttempts lists attempts for an assessment
// @Summary List attempts
// @Description Lists attempts for an assessment. Learners see only their own.
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Assessment ID"
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(10)
// @Param completed query bool false "Filter by completion"
// @Param learner_id query string false "Filter by learner (instructors only)"
// @Success 200 {object} services.AttemptListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "id")
	if assessmentID == 0 {
		return
	}

	h.LogRequest(c, "Listing attempts", "assessment_id", assessmentID)

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	filters := h.parseAttemptFilters(c)
	attempts, err := h.attemptService.ListByAssessment(c.Request.Context(), assessmentID, filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	page := (filters.Offset / max(filters.Limit, 1)) + 1
	totalPages := (int(attempts.Total) + filters.Limit - 1) / max(filters.Limit, 1)
	c.JSON(http.StatusOK, gin.H{
		"data":        attempts.Attempts,
		"total":       attempts.Total,
		"page":        page,
		"size":        filters.Limit,
		"total_pages": totalPages,
	})
}

// GetAttemptStats retrieves attempt statistics for an assessment
// @Summary Get attempt statistics
// @Description Retrieves aggregate attempt statistics for an assessment
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} SuccessResponse{data=repositories.AttemptStats}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/attempts/stats [get]
func (h *AttemptHandler) GetAttemptStats(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "id")
	if assessmentID == 0 {
		return
	}

	h.LogRequest(c, "Getting attempt stats", "assessment_id", assessmentID)

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	stats, err := h.attemptService.GetStats(c.Request.Context(), assessmentID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Attempt stats retrieved successfully",
		Data:    stats,
	})
}

// ExportAttempts exports completed attempts as an XLSX workbook
// @Summary Export attempts
// @Description Exports the completed attempts of an assessment as a spreadsheet
// @Tags attempts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Assessment ID"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/attempts/export [get]
func (h *AttemptHandler) ExportAttempts(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "id")
	if assessmentID == 0 {
		return
	}

	h.LogRequest(c, "Exporting attempts", "assessment_id", assessmentID)

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	workbook, err := h.exportService.ExportAttempts(c.Request.Context(), assessmentID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("assessment-%d-attempts.xlsx", assessmentID)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

// Helper methods

func (h *AttemptHandler) parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 10)

	filters := repositories.AttemptFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}

	if completedStr := c.Query("completed"); completedStr != "" {
		if completed, err := strconv.ParseBool(completedStr); err == nil {
			filters.Completed = &completed
		}
	}

	if learnerID := strings.TrimSpace(c.Query("learner_id")); learnerID != "" {
		filters.LearnerID = &learnerID
	}

	return filters
}

func (h *AttemptHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule": businessRuleError.Rule,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Attempt not found",
		})
	case errors.Is(err, services.ErrAssessmentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Assessment not found",
		})
	case errors.Is(err, services.ErrAssessmentPastDue):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: "Assessment due date has passed",
		})
	case errors.Is(err, services.ErrAttemptLimitExceeded):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Maximum attempts exceeded",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrAttemptAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt already submitted",
		})
	case errors.Is(err, services.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Conflicting concurrent request, please retry",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
