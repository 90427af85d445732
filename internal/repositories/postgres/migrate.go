package postgres

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// singleActiveIndex allows at most one in-progress session per user and exam set.
const singleActiveIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_session_single_active
	ON exam_sessions (user_id, exam_set_id) WHERE status = 'in_progress'`

// Migrate creates or updates the schema.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(
		&models.ExamSet{},
		&models.Passage{},
		&models.Question{},
		&models.ExamSession{},
		&models.Attempt{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	if err := db.Exec(singleActiveIndex).Error; err != nil {
		return fmt.Errorf("failed to create active session index: %w", err)
	}

	return nil
}
