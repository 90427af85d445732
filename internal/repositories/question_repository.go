package repositories

import (
	"context"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// QuestionRepository interface for question-specific operations
type QuestionRepository interface {
	// Bulk operations (import)
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error

	// Query operations
	ListByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) ([]models.Question, error)
	CountByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) (int64, error)
}

// PassageRepository interface for passage-specific operations
type PassageRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, passages []*models.Passage) error
	ListByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) ([]models.Passage, error)
}
