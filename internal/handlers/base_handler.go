package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the helpers shared by every handler.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.FromGin(c, h.logger).Debug(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err)
	utils.FromGin(c, h.logger).Error(msg, args...)
}

// parseIDParam reads a positive integer path parameter. It writes a 400 and
// returns 0 when the value is missing or malformed.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name,
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// parseParts reads a comma separated part filter ("1,2,7").
func (h *BaseHandler) parseParts(c *gin.Context) ([]models.Part, bool) {
	raw := strings.TrimSpace(c.Query("parts"))
	if raw == "" {
		return nil, true
	}

	var parts []models.Part
	for _, item := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || !models.Part(n).Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid parts filter",
				Details: item,
			})
			return nil, false
		}
		parts = append(parts, models.Part(n))
	}
	return parts, true
}

// userID returns the authenticated caller, writing a 401 when absent.
func (h *BaseHandler) userID(c *gin.Context) (string, bool) {
	id, err := GetUserIDFromContext(c)
	if err != nil || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return id, true
}

func (h *BaseHandler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *BaseHandler) bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
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
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
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

	var duplicate *services.DuplicateActiveSessionError
	if errors.As(err, &duplicate) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "An in-progress session already exists for this exam set",
			Details: map[string]interface{}{
				"session_id":  duplicate.SessionID,
				"exam_set_id": duplicate.ExamSetID,
				"on_existing": []string{"resume", "restart"},
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrExamSetNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Exam set not found"})
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Session not found"})
	case errors.Is(err, services.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Attempt not found"})

	case errors.Is(err, engine.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Session already submitted"})
	case errors.Is(err, services.ErrSessionNotActive),
		errors.Is(err, services.ErrSessionNotLive),
		errors.Is(err, services.ErrSessionNotCompleted),
		errors.Is(err, services.ErrSubmissionInProgress),
		errors.Is(err, services.ErrSubmissionPending),
		errors.Is(err, services.ErrNotRetrySession),
		errors.Is(err, engine.ErrNoPendingLeave),
		errors.Is(err, engine.ErrPauseUnsupported):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})

	case errors.Is(err, services.ErrQuestionNotInSession),
		errors.Is(err, engine.ErrQuestionIndexOutOfRange),
		errors.Is(err, engine.ErrInvalidLetter),
		errors.Is(err, services.ErrInvalidWorkbook):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})

	case errors.Is(err, engine.ErrEmptyQuestionSet),
		errors.Is(err, engine.ErrNoQuestionsToScore):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
	case errors.Is(err, engine.ErrServedQuestionMissing):
		c.JSON(http.StatusGone, ErrorResponse{Message: "Exam content changed since the session started"})

	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
