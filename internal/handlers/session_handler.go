package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.ExamSessionService
}

func NewSessionHandler(sessionService services.ExamSessionService, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
	}
}

// StartSession starts a session, or resumes/restarts the in-progress one
// when on_existing says so.
// @Router /sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req services.StartSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting session", "exam_set_id", req.ExamSetID, "on_existing", req.OnExisting)

	view, err := h.sessionService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, view)
}

// @Router /sessions/active [get]
func (h *SessionHandler) GetActiveSession(c *gin.Context) {
	examSetID, err := strconv.ParseUint(c.Query("exam_set_id"), 10, 64)
	if err != nil || examSetID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Query parameter 'exam_set_id' is required",
		})
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetActive(c.Request.Context(), uint(examSetID), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessions returns the caller's session history.
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	var query services.SessionHistoryQuery
	if !h.bindQuery(c, &query) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	page, err := h.sessionService.History(c.Request.Context(), userID, &query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Router /sessions/{id}/answers [post]
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req services.AnswerRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.SetAnswer(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// @Router /sessions/{id}/navigate [post]
func (h *SessionHandler) Navigate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req services.NavigateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Navigate(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Router /sessions/{id}/pause [post]
func (h *SessionHandler) Pause(c *gin.Context) {
	h.timerAction(c, "Pausing session timer", h.sessionService.Pause)
}

// @Router /sessions/{id}/resume-timer [post]
func (h *SessionHandler) ResumeTimer(c *gin.Context) {
	h.timerAction(c, "Resuming session timer", h.sessionService.ResumeTimer)
}

func (h *SessionHandler) timerAction(c *gin.Context, msg string, action func(ctx context.Context, sessionID uint, userID string) (*services.TimerView, error)) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	h.LogRequest(c, msg, "session_id", id)

	timer, err := action(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, timer)
}

// SubmitSession scores the session. When the per-question details could
// not be stored the score is still returned with a warning.
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting session", "session_id", id)

	result, err := h.sessionService.Submit(c.Request.Context(), id, userID)
	h.respondResult(c, result, err)
}

// @Router /sessions/{id}/attempts/retry [post]
func (h *SessionHandler) RetryAttemptPersistence(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.RetryAttemptPersistence(c.Request.Context(), id, userID)
	h.respondResult(c, result, err)
}

func (h *SessionHandler) respondResult(c *gin.Context, result *services.SessionResult, err error) {
	if err != nil {
		var persistErr *services.AttemptPersistenceError
		if !errors.As(err, &persistErr) || result == nil {
			h.handleServiceError(c, err)
			return
		}
		h.LogError(c, err, "Attempt details not stored", "session_id", result.SessionID)
		c.JSON(http.StatusOK, SuccessResponse{
			Message: engine.ErrAttemptPersistenceFailed.Error(),
			Data:    result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Cancelling session", "session_id", id)

	if err := h.sessionService.Cancel(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Session cancelled"})
}

// RequestLeave holds a leave attempt while the session is live. The client
// must confirm or cancel it.
// @Router /sessions/{id}/leave [post]
func (h *SessionHandler) RequestLeave(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req services.LeaveRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	resp, err := h.sessionService.RequestLeave(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	status := http.StatusOK
	if resp.RequiresConfirmation {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// @Router /sessions/{id}/leave/confirm [post]
func (h *SessionHandler) ConfirmLeave(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	resp, err := h.sessionService.ConfirmLeave(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Router /sessions/{id}/leave/cancel [post]
func (h *SessionHandler) CancelLeave(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.CancelLeave(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Router /sessions/{id}/result [get]
func (h *SessionHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.GetResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Router /sessions/{id}/retry [post]
func (h *SessionHandler) StartRetry(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req services.RetrySessionRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting retry session", "retry_of", id)

	view, err := h.sessionService.StartRetry(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// @Router /sessions/{id}/attempts/{question_id} [put]
func (h *SessionHandler) CorrectAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}
	var req services.CorrectAttemptRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.CorrectAttempt(c.Request.Context(), id, questionID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
