package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// Exam content keys, all under ExamContentCacheConfig.Prefix.

func ExamSetKey(examSetID uint) string {
	return fmt.Sprintf("set:%d", examSetID)
}

func QuestionsKey(examSetID uint) string {
	return fmt.Sprintf("set:%d:questions", examSetID)
}

func PassagesKey(examSetID uint) string {
	return fmt.Sprintf("set:%d:passages", examSetID)
}

// InvalidateExamSet drops every cached entry of one exam set. Failures are
// logged; the entries expire on their own.
func InvalidateExamSet(ctx context.Context, cm *CacheManager, examSetID uint) {
	if err := cm.ExamContent.Delete(ctx, ExamSetKey(examSetID)); err != nil {
		slog.ErrorContext(ctx, "Failed to delete exam set cache", "error", err, "exam_set_id", examSetID)
	}
	if err := cm.ExamContent.DeleteMatching(ctx, ExamSetKey(examSetID)+":*"); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate exam content cache", "error", err, "exam_set_id", examSetID)
	}
}
