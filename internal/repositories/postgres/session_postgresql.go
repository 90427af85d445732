package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSessionPostgreSQL(db *gorm.DB) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

// Create inserts a session. A second in-progress session for the same user
// and exam set violates idx_session_single_active and surfaces as
// gorm.ErrDuplicatedKey.
func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Omit("ExamSet", "Attempts").Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetActive(ctx context.Context, tx *gorm.DB, userID string, examSetID uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	err := db.WithContext(ctx).
		Where("user_id = ? AND exam_set_id = ? AND status = ?", userID, examSetID, models.SessionInProgress).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return &session, nil
}

func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	var total int64

	query := s.helpers.ApplySessionFilters(db.WithContext(ctx).Model(&models.ExamSession{}), filters)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, total, nil
}

func (s *SessionPostgreSQL) SaveProgress(ctx context.Context, tx *gorm.DB, id uint, progress repositories.SessionProgress) error {
	savedAt := progress.SavedAt
	return s.conditionalUpdate(ctx, tx, id, models.SessionInProgress, map[string]interface{}{
		"current_question_index": progress.CurrentQuestionIndex,
		"time_remaining_seconds": progress.TimeRemainingSeconds,
		"answered_count":         progress.AnsweredCount,
		"answers_snapshot":       datatypes.NewJSONType(progress.Answers),
		"last_saved_at":          &savedAt,
	})
}

// Complete writes the terminal fields only if the session is still in
// progress, so two racing submissions cannot both complete it.
func (s *SessionPostgreSQL) Complete(ctx context.Context, tx *gorm.DB, id uint, result repositories.SessionResult) error {
	completedAt := result.CompletedAt
	return s.conditionalUpdate(ctx, tx, id, models.SessionInProgress, map[string]interface{}{
		"status":                 models.SessionCompleted,
		"completed_at":           &completedAt,
		"time_remaining_seconds": result.TimeRemainingSeconds,
		"time_spent_seconds":     result.TimeSpentSeconds,
		"score":                  result.Score,
		"total_questions":        result.TotalQuestions,
		"correct_answers":        result.CorrectAnswers,
		"answered_count":         result.AnsweredCount,
		"answers_snapshot":       datatypes.NewJSONType(result.Answers),
		"last_saved_at":          &completedAt,
	})
}

func (s *SessionPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.SessionStatus) error {
	return s.conditionalUpdate(ctx, tx, id, from, map[string]interface{}{"status": to})
}

func (s *SessionPostgreSQL) MarkAttemptsPersisted(ctx context.Context, tx *gorm.DB, id uint) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ?", id).
		Update("attempts_persisted", true).Error
}

func (s *SessionPostgreSQL) UpdateScore(ctx context.Context, tx *gorm.DB, id uint, correct, score int) error {
	return s.conditionalUpdate(ctx, tx, id, models.SessionCompleted, map[string]interface{}{
		"correct_answers": correct,
		"score":           score,
	})
}

func (s *SessionPostgreSQL) conditionalUpdate(ctx context.Context, tx *gorm.DB, id uint, status models.SessionStatus, fields map[string]interface{}) error {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status = ?", id, status).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update session %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrStatusConflict
	}
	return nil
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
