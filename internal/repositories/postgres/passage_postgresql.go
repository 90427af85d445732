package postgres

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type PassagePostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewPassagePostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.PassageRepository {
	return &PassagePostgreSQL{
		db:           db,
		cacheManager: cacheManager,
	}
}

func (p *PassagePostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, passages []*models.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	db := p.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(passages, 100).Error; err != nil {
		return fmt.Errorf("failed to create passages: %w", err)
	}

	cache.InvalidateExamSet(ctx, p.cacheManager, passages[0].ExamSetID)
	return nil
}

// ListByExamSet returns every passage of an exam set, cached with the questions.
func (p *PassagePostgreSQL) ListByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) ([]models.Passage, error) {
	db := p.getDB(tx)
	return cache.Fetch(ctx, p.cacheManager.ExamContent, cache.PassagesKey(examSetID), cache.ExamContentCacheConfig.TTL, func() ([]models.Passage, error) {
		var passages []models.Passage
		if err := db.WithContext(ctx).
			Where("exam_set_id = ?", examSetID).
			Order("part ASC, id ASC").
			Find(&passages).Error; err != nil {
			return nil, fmt.Errorf("failed to list passages: %w", err)
		}
		return passages, nil
	})
}

func (p *PassagePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return p.db
}
