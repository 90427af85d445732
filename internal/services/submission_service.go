package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/datatypes"
)

type submissionService struct {
	repo      repositories.Repository
	assembler AssemblerService
	autosave  AutoSaveService
	clock     engine.Scheduler
	logger    *slog.Logger
	validator *validator.Validator
}

func NewSubmissionService(
	repo repositories.Repository,
	assembler AssemblerService,
	autosave AutoSaveService,
	clock engine.Scheduler,
	logger *slog.Logger,
	validator *validator.Validator,
) SubmissionService {
	return &submissionService{
		repo:      repo,
		assembler: assembler,
		autosave:  autosave,
		clock:     clock,
		logger:    logger,
		validator: validator,
	}
}

// Submit scores the final answers, completes the session and writes one
// attempt per served question. session is updated in place on success.
//
// The completion write is conditional on the session still being in
// progress, so a second submission gets ErrAlreadySubmitted. When the
// attempts cannot be written the score stays saved and an
// AttemptPersistenceError is returned alongside the result.
func (s *submissionService) Submit(ctx context.Context, session *models.ExamSession, set *engine.QuestionSet, entries []models.AnswerEntry, timeSpent, timeRemaining int) (*SessionResult, error) {
	if session.Status.Terminal() {
		if session.Status == models.SessionCompleted {
			return nil, engine.ErrAlreadySubmitted
		}
		return nil, ErrSessionNotActive
	}

	scored, err := engine.Score(set, entries, timeSpent)
	if err != nil {
		return nil, err
	}

	if !session.Bounded() {
		timeRemaining = models.UnlimitedTime
	}
	now := s.clock.Now()

	err = s.repo.Session().Complete(ctx, nil, session.ID, repositories.SessionResult{
		CompletedAt:          now,
		TimeRemainingSeconds: timeRemaining,
		TimeSpentSeconds:     scored.TimeSpentSeconds,
		Score:                scored.Score,
		TotalQuestions:       scored.TotalQuestions,
		CorrectAnswers:       scored.CorrectAnswers,
		AnsweredCount:        scored.AnsweredCount,
		Answers:              entries,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStatusConflict) {
			return nil, s.statusConflict(ctx, session.ID)
		}
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}

	session.Status = models.SessionCompleted
	session.CompletedAt = &now
	session.TimeRemainingSeconds = timeRemaining
	session.TimeSpentSeconds = scored.TimeSpentSeconds
	session.Score = scored.Score
	session.TotalQuestions = scored.TotalQuestions
	session.CorrectAnswers = scored.CorrectAnswers
	session.AnsweredCount = scored.AnsweredCount
	session.AnswersSnapshot = datatypes.NewJSONType(entries)
	session.LastSavedAt = &now

	s.autosave.Purge(ctx, session.ID)

	s.logger.Info("Session completed",
		"session_id", session.ID,
		"score", scored.Score,
		"correct", scored.CorrectAnswers,
		"total", scored.TotalQuestions,
		"time_spent", scored.TimeSpentSeconds)

	attempts := attemptsFromScore(session.ID, scored)
	result := buildResult(session, set, attempts)

	if err := s.persistAttempts(ctx, session, attempts); err != nil {
		s.logger.Error("Failed to persist attempts", "session_id", session.ID, "error", err)
		return result, &AttemptPersistenceError{SessionID: session.ID, Result: result, Err: err}
	}
	result.AttemptsPersisted = true

	return result, nil
}

// RetryAttemptPersistence re-derives the attempts from the answers stored at
// completion and writes the missing ones.
func (s *submissionService) RetryAttemptPersistence(ctx context.Context, session *models.ExamSession) (*SessionResult, error) {
	if session.Status != models.SessionCompleted {
		return nil, ErrSessionNotCompleted
	}
	if session.AttemptsPersisted {
		return s.GetResult(ctx, session)
	}

	set, err := s.assembler.LoadServed(ctx, session.ExamSetID, session.ServedQuestionIDs.Data())
	if err != nil {
		return nil, err
	}

	scored, err := engine.Score(set, session.AnswersSnapshot.Data(), session.TimeSpentSeconds)
	if err != nil {
		return nil, err
	}

	attempts := attemptsFromScore(session.ID, scored)
	if err := s.persistAttempts(ctx, session, attempts); err != nil {
		return nil, &AttemptPersistenceError{
			SessionID: session.ID,
			Result:    buildResult(session, set, attempts),
			Err:       err,
		}
	}

	s.logger.Info("Attempts persisted on retry", "session_id", session.ID, "attempts", len(attempts))
	return s.GetResult(ctx, session)
}

// CorrectAttempt rewrites one answer of a completed retry session and
// re-aggregates its score.
func (s *submissionService) CorrectAttempt(ctx context.Context, session *models.ExamSession, questionID uint, letter models.Letter) (*SessionResult, error) {
	if !session.IsRetry {
		return nil, ErrNotRetrySession
	}
	if session.Status != models.SessionCompleted {
		return nil, ErrSessionNotCompleted
	}

	set, err := s.assembler.LoadServed(ctx, session.ExamSetID, session.ServedQuestionIDs.Data())
	if err != nil {
		return nil, err
	}
	question, ok := set.Question(questionID)
	if !ok {
		return nil, ErrQuestionNotInSession
	}
	if errs := s.validator.GetBusinessValidator().ValidateAnswerForPart(letter, question.Part); len(errs) > 0 {
		return nil, errs
	}

	if !session.AttemptsPersisted {
		if _, err := s.RetryAttemptPersistence(ctx, session); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		attempt, err := tx.Attempt().GetBySessionAndQuestion(ctx, nil, session.ID, questionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptNotFound
			}
			return err
		}

		chosen := letter
		attempt.ChosenLetter = &chosen
		attempt.IsCorrect = question.IsCorrect(&chosen)
		attempt.CorrectedAt = &now
		if err := tx.Attempt().Update(ctx, nil, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}

		correct, err := tx.Attempt().CountCorrect(ctx, nil, session.ID)
		if err != nil {
			return fmt.Errorf("failed to count correct attempts: %w", err)
		}
		score := engine.Percentage(int(correct), session.TotalQuestions)
		if err := tx.Session().UpdateScore(ctx, nil, session.ID, int(correct), score); err != nil {
			return fmt.Errorf("failed to update score: %w", err)
		}

		session.CorrectAnswers = int(correct)
		session.Score = score
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Retry attempt corrected",
		"session_id", session.ID,
		"question_id", questionID,
		"score", session.Score)

	return s.GetResult(ctx, session)
}

func (s *submissionService) GetResult(ctx context.Context, session *models.ExamSession) (*SessionResult, error) {
	if session.Status != models.SessionCompleted {
		return nil, ErrSessionNotCompleted
	}

	set, err := s.assembler.LoadServed(ctx, session.ExamSetID, session.ServedQuestionIDs.Data())
	if err != nil {
		return nil, err
	}

	attempts, err := s.repo.Attempt().ListBySession(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	// Details not written yet: show what the stored answers score to.
	if len(attempts) == 0 && !session.AttemptsPersisted {
		scored, err := engine.Score(set, session.AnswersSnapshot.Data(), session.TimeSpentSeconds)
		if err != nil {
			return nil, err
		}
		attempts = attemptsFromScore(session.ID, scored)
	}

	return buildResult(session, set, attempts), nil
}

func (s *submissionService) persistAttempts(ctx context.Context, session *models.ExamSession, attempts []*models.Attempt) error {
	if err := s.repo.Attempt().CreateBatch(ctx, nil, attempts); err != nil {
		return err
	}
	if err := s.repo.Session().MarkAttemptsPersisted(ctx, nil, session.ID); err != nil {
		return fmt.Errorf("failed to mark attempts persisted: %w", err)
	}
	session.AttemptsPersisted = true
	return nil
}

func (s *submissionService) statusConflict(ctx context.Context, sessionID uint) error {
	current, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reload session: %w", err)
	}
	if current.Status == models.SessionCompleted {
		return engine.ErrAlreadySubmitted
	}
	return ErrSessionNotActive
}

func attemptsFromScore(sessionID uint, scored *engine.Result) []*models.Attempt {
	attempts := make([]*models.Attempt, 0, len(scored.Answers))
	for _, a := range scored.Answers {
		attempts = append(attempts, &models.Attempt{
			SessionID:        sessionID,
			QuestionID:       a.QuestionID,
			Position:         a.Position,
			ChosenLetter:     a.Chosen,
			CorrectChoice:    a.Correct,
			IsCorrect:        a.IsCorrect,
			TimeSpentSeconds: a.TimeSpentSeconds,
		})
	}
	return attempts
}

func buildResult(session *models.ExamSession, set *engine.QuestionSet, attempts []*models.Attempt) *SessionResult {
	result := &SessionResult{
		SessionID:         session.ID,
		ExamSetID:         session.ExamSetID,
		Status:            session.Status,
		IsRetry:           session.IsRetry,
		Score:             session.Score,
		TotalQuestions:    session.TotalQuestions,
		CorrectAnswers:    session.CorrectAnswers,
		IncorrectAnswers:  session.TotalQuestions - session.CorrectAnswers,
		AnsweredCount:     session.AnsweredCount,
		TimeSpentSeconds:  session.TimeSpentSeconds,
		TimeSpent:         engine.FormatClock(session.TimeSpentSeconds),
		CompletedAt:       session.CompletedAt,
		AttemptsPersisted: session.AttemptsPersisted,
		Attempts:          make([]AttemptView, 0, len(attempts)),
	}

	for _, a := range attempts {
		view := AttemptView{
			Position:         a.Position,
			QuestionID:       a.QuestionID,
			ChosenLetter:     a.ChosenLetter,
			CorrectChoice:    a.CorrectChoice,
			IsCorrect:        a.IsCorrect,
			TimeSpentSeconds: a.TimeSpentSeconds,
			CorrectedAt:      a.CorrectedAt,
		}
		if q, ok := set.Question(a.QuestionID); ok {
			view.Part = q.Part
			view.Explanation = q.Explanation
		}
		result.Attempts = append(result.Attempts, view)
	}
	return result
}
