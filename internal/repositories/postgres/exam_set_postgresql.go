package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type ExamSetPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewExamSetPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.ExamSetRepository {
	return &ExamSetPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cacheManager,
	}
}

func (e *ExamSetPostgreSQL) Create(ctx context.Context, tx *gorm.DB, set *models.ExamSet) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Omit("Questions", "Passages").Create(set).Error; err != nil {
		return fmt.Errorf("failed to create exam set: %w", err)
	}
	return nil
}

// GetByID retrieves an exam set by ID with caching
func (e *ExamSetPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSet, error) {
	db := e.getDB(tx)
	return cache.Fetch(ctx, e.cacheManager.ExamContent, cache.ExamSetKey(id), cache.ExamContentCacheConfig.TTL, func() (*models.ExamSet, error) {
		var set models.ExamSet
		if err := db.WithContext(ctx).First(&set, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repositories.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get exam set: %w", err)
		}
		return &set, nil
	})
}

func (e *ExamSetPostgreSQL) Update(ctx context.Context, tx *gorm.DB, set *models.ExamSet) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Omit("Questions", "Passages").Save(set).Error; err != nil {
		return fmt.Errorf("failed to update exam set: %w", err)
	}

	cache.InvalidateExamSet(ctx, e.cacheManager, set.ID)
	return nil
}

func (e *ExamSetPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamSetFilters) ([]*models.ExamSet, int64, error) {
	db := e.getDB(tx)
	var sets []*models.ExamSet
	var total int64

	query := e.helpers.ApplyExamSetFilters(db.WithContext(ctx).Model(&models.ExamSet{}), filters)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count exam sets: %w", err)
	}

	query = e.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&sets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list exam sets: %w", err)
	}

	return sets, total, nil
}

func (e *ExamSetPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return e.db
}
