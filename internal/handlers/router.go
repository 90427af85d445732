package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HandlerManager struct {
	sessionHandler *SessionHandler
	examSetHandler *ExamSetHandler
	authMiddleware *CasdoorAuthMiddleware
	checks         map[string]HealthChecker
	live           func() int
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger utils.Logger,
	authMiddleware *CasdoorAuthMiddleware,
	checks map[string]HealthChecker,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(serviceManager.ExamSession(), logger),
		examSetHandler: NewExamSetHandler(serviceManager.ExamSets(), serviceManager.Assembler(), serviceManager.Import(), logger),
		authMiddleware: authMiddleware,
		checks:         checks,
		live:           serviceManager.ExamSession().LiveSessions,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.StartSession)
			sessions.GET("", hm.sessionHandler.ListSessions)
			sessions.GET("/active", hm.sessionHandler.GetActiveSession)
			sessions.GET("/:id", hm.sessionHandler.GetSession)

			// Live interaction
			sessions.POST("/:id/answers", hm.sessionHandler.SetAnswer)
			sessions.POST("/:id/navigate", hm.sessionHandler.Navigate)
			sessions.POST("/:id/pause", hm.sessionHandler.Pause)
			sessions.POST("/:id/resume-timer", hm.sessionHandler.ResumeTimer)

			// Leave guard
			sessions.POST("/:id/leave", hm.sessionHandler.RequestLeave)
			sessions.POST("/:id/leave/confirm", hm.sessionHandler.ConfirmLeave)
			sessions.POST("/:id/leave/cancel", hm.sessionHandler.CancelLeave)

			// Completion
			sessions.POST("/:id/submit", hm.sessionHandler.SubmitSession)
			sessions.POST("/:id/cancel", hm.sessionHandler.CancelSession)
			sessions.GET("/:id/result", hm.sessionHandler.GetResult)
			sessions.POST("/:id/attempts/retry", hm.sessionHandler.RetryAttemptPersistence)

			// Retry mode
			sessions.POST("/:id/retry", hm.sessionHandler.StartRetry)
			sessions.PUT("/:id/attempts/:question_id", hm.sessionHandler.CorrectAttempt)
		}

		examSets := v1.Group("/exam-sets")
		{
			examSets.GET("", hm.examSetHandler.ListExamSets)
			examSets.GET("/:id", hm.examSetHandler.GetExamSet)
			examSets.GET("/:id/questions", hm.examSetHandler.PreviewQuestions)

			// Content management - Teachers and Admins only
			staff := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin)
			examSets.POST("/import", staff, hm.examSetHandler.ImportWorkbook)
			examSets.PATCH("/:id", staff, hm.examSetHandler.UpdateExamSet)
		}
	}

	router.GET("/health", hm.health)
}

func (hm *HandlerManager) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(hm.checks))
	for name, check := range hm.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":        state,
		"service":       "exam-session-service",
		"live_sessions": hm.live(),
		"dependencies":  deps,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}
