package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type autoSaveService struct {
	repo      repositories.Repository
	snapshots SnapshotStore
	logger    *slog.Logger
}

func NewAutoSaveService(repo repositories.Repository, snapshots SnapshotStore, logger *slog.Logger) AutoSaveService {
	return &autoSaveService{
		repo:      repo,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Save writes the snapshot to the key-value store and to the session record.
// Both are attempted; any failure is reported as ErrSnapshotWriteFailed.
func (s *autoSaveService) Save(ctx context.Context, snap *engine.Snapshot) error {
	var errs []error

	if err := s.snapshots.Put(ctx, snap); err != nil && !errors.Is(err, cache.ErrCacheNotAvailable) {
		errs = append(errs, err)
	}

	entries := snap.Entries()
	answered := 0
	for _, e := range entries {
		if e.ChosenLetter != nil {
			answered++
		}
	}

	err := s.repo.Session().SaveProgress(ctx, nil, snap.SessionID, repositories.SessionProgress{
		CurrentQuestionIndex: snap.CurrentIndex,
		TimeRemainingSeconds: snap.TimeRemaining,
		AnsweredCount:        answered,
		Answers:              entries,
		SavedAt:              snap.SavedAt(),
	})
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: session %d: %w", engine.ErrSnapshotWriteFailed, snap.SessionID, errors.Join(errs...))
	}
	return nil
}

// Load returns the latest snapshot of a session. The key-value copy wins
// unless the session record was saved more recently.
func (s *autoSaveService) Load(ctx context.Context, session *models.ExamSession) (*engine.Snapshot, error) {
	snap, err := s.snapshots.Get(ctx, session.ID)
	switch {
	case err == nil:
		if session.LastSavedAt == nil || snap.Timestamp >= session.LastSavedAt.UnixMilli() {
			return snap, nil
		}
		s.logger.Info("Snapshot store is behind session record, using record",
			"session_id", session.ID)
	case errors.Is(err, cache.ErrSnapshotNotFound):
	default:
		s.logger.Warn("Failed to read snapshot, falling back to session record",
			"session_id", session.ID,
			"error", err)
	}

	return snapshotFromRecord(session), nil
}

func (s *autoSaveService) Purge(ctx context.Context, sessionID uint) {
	if err := s.snapshots.Delete(ctx, sessionID); err != nil && !errors.Is(err, cache.ErrCacheNotAvailable) {
		s.logger.Warn("Failed to purge snapshot", "session_id", sessionID, "error", err)
	}
}

func snapshotFromRecord(session *models.ExamSession) *engine.Snapshot {
	snap := &engine.Snapshot{
		SessionID:         session.ID,
		ExamSetID:         session.ExamSetID,
		CurrentIndex:      session.CurrentQuestionIndex,
		TimeRemaining:     session.TimeRemainingSeconds,
		ServedQuestionIDs: session.ServedQuestionIDs.Data(),
		QuestionTime:      make(map[uint]int),
	}
	switch {
	case session.LastSavedAt != nil:
		snap.Timestamp = session.LastSavedAt.UnixMilli()
	case session.StartedAt != nil:
		snap.Timestamp = session.StartedAt.UnixMilli()
	}

	for _, e := range session.AnswersSnapshot.Data() {
		snap.Answers = append(snap.Answers, engine.AnswerPair{QuestionID: e.QuestionID, Answer: e.ChosenLetter})
		if e.TimeSpentSeconds > 0 {
			snap.QuestionTime[e.QuestionID] = e.TimeSpentSeconds
		}
	}
	return snap
}
