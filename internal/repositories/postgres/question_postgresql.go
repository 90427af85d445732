package postgres

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type QuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		cacheManager: cacheManager,
	}
}

// ===== BULK OPERATIONS =====

// CreateBatch inserts questions and invalidates the cached exam set content
func (q *QuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}

	db := q.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return fmt.Errorf("failed to create questions: %w", err)
	}

	for _, examSetID := range distinctExamSets(questions) {
		cache.InvalidateExamSet(ctx, q.cacheManager, examSetID)
	}
	return nil
}

// ===== QUERY OPERATIONS =====

// ListByExamSet returns every question of an exam set in authored order.
// The full list is cached since sessions of the same set load it repeatedly.
func (q *QuestionPostgreSQL) ListByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) ([]models.Question, error) {
	db := q.getDB(tx)
	return cache.Fetch(ctx, q.cacheManager.ExamContent, cache.QuestionsKey(examSetID), cache.ExamContentCacheConfig.TTL, func() ([]models.Question, error) {
		var questions []models.Question
		if err := db.WithContext(ctx).
			Where("exam_set_id = ?", examSetID).
			Order("part ASC, order_index ASC, id ASC").
			Find(&questions).Error; err != nil {
			return nil, fmt.Errorf("failed to list questions: %w", err)
		}
		return questions, nil
	})
}

func (q *QuestionPostgreSQL) CountByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) (int64, error) {
	db := q.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("exam_set_id = ?", examSetID).
		Count(&count).Error
	return count, err
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}

func distinctExamSets(questions []*models.Question) []uint {
	seen := make(map[uint]bool)
	var ids []uint
	for _, question := range questions {
		if !seen[question.ExamSetID] {
			seen[question.ExamSetID] = true
			ids = append(ids, question.ExamSetID)
		}
	}
	return ids
}
