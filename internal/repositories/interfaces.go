package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type ExamSetFilters struct {
	Search    string `json:"search"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sort_by"`    // "created_at", "title"
	SortOrder string `json:"sort_order"` // "asc", "desc"
}

type SessionFilters struct {
	UserID    *string               `json:"user_id"`
	ExamSetID *uint                 `json:"exam_set_id"`
	Status    *models.SessionStatus `json:"status"`
	IsRetry   *bool                 `json:"is_retry"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "score", "completed_at"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

// ===== WRITE PAYLOADS =====

// SessionProgress is the auto-save portion of a session record.
type SessionProgress struct {
	CurrentQuestionIndex int
	TimeRemainingSeconds int
	AnsweredCount        int
	Answers              []models.AnswerEntry
	SavedAt              time.Time
}

// SessionResult holds the terminal fields written on completion.
type SessionResult struct {
	CompletedAt          time.Time
	TimeRemainingSeconds int
	TimeSpentSeconds     int
	Score                int
	TotalQuestions       int
	CorrectAnswers       int
	AnsweredCount        int
	Answers              []models.AnswerEntry
}

// ===== REPOSITORIES =====

type ExamSetRepository interface {
	Create(ctx context.Context, tx *gorm.DB, set *models.ExamSet) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSet, error)
	Update(ctx context.Context, tx *gorm.DB, set *models.ExamSet) error
	List(ctx context.Context, tx *gorm.DB, filters ExamSetFilters) ([]*models.ExamSet, int64, error)
}

type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.ExamSession, int64, error)

	// GetActive returns the in-progress session of a user for an exam set.
	GetActive(ctx context.Context, tx *gorm.DB, userID string, examSetID uint) (*models.ExamSession, error)

	// Conditional writes return ErrStatusConflict when the row is no longer
	// in the expected status.
	SaveProgress(ctx context.Context, tx *gorm.DB, id uint, progress SessionProgress) error
	Complete(ctx context.Context, tx *gorm.DB, id uint, result SessionResult) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.SessionStatus) error

	MarkAttemptsPersisted(ctx context.Context, tx *gorm.DB, id uint) error
	UpdateScore(ctx context.Context, tx *gorm.DB, id uint, correct, score int) error
}

type AttemptRepository interface {
	// CreateBatch skips rows whose (session_id, question_id) already exists.
	CreateBatch(ctx context.Context, tx *gorm.DB, attempts []*models.Attempt) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Attempt, error)
	GetBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.Attempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (int64, error)
	CountCorrect(ctx context.Context, tx *gorm.DB, sessionID uint) (int64, error)
}
