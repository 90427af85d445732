package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/datatypes"
)

type SessionServiceConfig struct {
	AutoSaveInterval time.Duration
	SaveTimeout      time.Duration
	SubmitTimeout    time.Duration
}

func DefaultSessionServiceConfig() SessionServiceConfig {
	return SessionServiceConfig{
		AutoSaveInterval: 30 * time.Second,
		SaveTimeout:      10 * time.Second,
		SubmitTimeout:    30 * time.Second,
	}
}

type examSessionService struct {
	repo       repositories.Repository
	assembler  AssemblerService
	autosave   AutoSaveService
	submission SubmissionService
	publisher  events.EventPublisher
	scheduler  engine.Scheduler
	logger     *slog.Logger
	validator  *validator.Validator
	config     SessionServiceConfig

	mu       sync.Mutex
	runtimes map[uint]*sessionRuntime
}

func NewExamSessionService(
	repo repositories.Repository,
	assembler AssemblerService,
	autosave AutoSaveService,
	submission SubmissionService,
	publisher events.EventPublisher,
	scheduler engine.Scheduler,
	logger *slog.Logger,
	validator *validator.Validator,
	config SessionServiceConfig,
) ExamSessionService {
	if publisher == nil {
		publisher = events.NoopEventPublisher{}
	}
	return &examSessionService{
		repo:       repo,
		assembler:  assembler,
		autosave:   autosave,
		submission: submission,
		publisher:  publisher,
		scheduler:  scheduler,
		logger:     logger,
		validator:  validator,
		config:     config,
		runtimes:   make(map[uint]*sessionRuntime),
	}
}

// ===== LIFECYCLE =====

// Start opens a new session, or resolves a collision with an in-progress
// session of the same exam set according to req.OnExisting.
func (s *examSessionService) Start(ctx context.Context, req *StartSessionRequest, userID string) (*SessionView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	examSet, err := s.assembler.LoadExamSet(ctx, req.ExamSetID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.Session().GetActive(ctx, nil, userID, req.ExamSetID)
	switch {
	case err == nil:
		switch req.OnExisting {
		case validator.ExistingResume:
			return s.resume(ctx, existing)
		case validator.ExistingRestart:
			s.logger.Info("Restarting over in-progress session",
				"session_id", existing.ID,
				"user_id", userID)
			if err := s.closeRuntime(existing.ID); err != nil {
				return nil, err
			}
			if err := s.cancelSession(ctx, existing); err != nil && !errors.Is(err, ErrSessionNotActive) {
				return nil, err
			}
		default:
			return nil, &DuplicateActiveSessionError{SessionID: existing.ID, ExamSetID: existing.ExamSetID}
		}
	case !repositories.IsNotFoundError(err):
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	available, err := s.assembler.AvailableParts(ctx, req.ExamSetID)
	if err != nil {
		return nil, err
	}
	if errs := s.validator.GetBusinessValidator().ValidateStartSession(req, available); len(errs) > 0 {
		return nil, errs
	}

	set, err := s.assembler.Assemble(ctx, req.ExamSetID, req.Parts)
	if err != nil {
		return nil, err
	}

	mode := req.TimeMode
	if mode == "" {
		mode = models.TimeModeStandard
	}
	allotted := s.assembler.AllottedSeconds(examSet, req.Parts, mode)
	if mode == models.TimeModeStandard && allotted <= 0 {
		return nil, NewBusinessRuleError("time_allotment", "exam set has no time limit for the selected parts", map[string]interface{}{
			"exam_set_id": examSet.ID,
			"parts":       req.Parts,
		})
	}

	session := s.newSession(userID, examSet.ID, mode, req.Parts, set, allotted)
	if err := s.createSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Session started",
		"session_id", session.ID,
		"user_id", userID,
		"exam_set_id", examSet.ID,
		"time_mode", mode,
		"questions", set.Len(),
		"time_allotted", allotted)

	rt := s.openRuntime(session, set, engine.NewLedger(), allotted, 0)
	s.publishSession(ctx, events.SessionStarted, session, false)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.view(), nil
}

// resume rebuilds the runtime of an in-progress session from its latest
// snapshot. A bounded session whose time ran out while away is submitted
// straight away.
func (s *examSessionService) resume(ctx context.Context, session *models.ExamSession) (*SessionView, error) {
	if rt := s.runtime(session.ID); rt != nil {
		rt.mu.Lock()
		if !rt.closed {
			view := rt.view()
			rt.mu.Unlock()
			view.Resumed = true
			return view, nil
		}
		rt.mu.Unlock()
	}

	snap, err := s.autosave.Load(ctx, session)
	if err != nil {
		return nil, err
	}

	served := session.ServedQuestionIDs.Data()
	if len(served) == 0 {
		served = snap.ServedQuestionIDs
	}
	set, err := s.assembler.LoadServed(ctx, session.ExamSetID, served)
	if err != nil {
		return nil, err
	}

	rt := s.openRuntime(session, set, engine.NewLedgerFrom(snap.Entries()), snap.TimeRemaining, snap.CurrentIndex)

	rt.mu.Lock()
	view := rt.view()
	closed := rt.closed
	current := rt.session
	rt.mu.Unlock()
	view.Resumed = true

	if closed {
		s.logger.Info("Session expired while away, submitted on resume", "session_id", session.ID)
		result, err := s.submission.GetResult(ctx, current)
		if err != nil {
			return nil, err
		}
		result.AutoSubmitted = true
		view.Result = result
		return view, nil
	}

	s.logger.Info("Session resumed",
		"session_id", session.ID,
		"time_remaining", view.TimeRemaining,
		"answered", view.AnsweredCount)
	s.publishSession(ctx, events.SessionResumed, session, false)
	return view, nil
}

func (s *examSessionService) GetActive(ctx context.Context, examSetID uint, userID string) (*models.ExamSession, error) {
	session, err := s.repo.Session().GetActive(ctx, nil, userID, examSetID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// History lists the caller's sessions, newest first unless asked otherwise.
// Live runtimes are not consulted; progress is as of the last auto-save.
func (s *examSessionService) History(ctx context.Context, userID string, q *SessionHistoryQuery) (*SessionPage, error) {
	if err := s.validator.Validate(q); err != nil {
		return nil, err
	}

	filters := repositories.SessionFilters{
		UserID:    &userID,
		IsRetry:   q.IsRetry,
		Limit:     q.Limit,
		Offset:    q.Offset,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	}
	if filters.Limit == 0 {
		filters.Limit = defaultPageSize
	}
	if q.ExamSetID != 0 {
		filters.ExamSetID = &q.ExamSetID
	}
	if q.Status != "" {
		status := models.SessionStatus(q.Status)
		filters.Status = &status
	}

	sessions, total, err := s.repo.Session().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	page := &SessionPage{
		Items:  make([]SessionSummary, 0, len(sessions)),
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}
	for _, session := range sessions {
		page.Items = append(page.Items, SessionSummary{
			ID:                  session.ID,
			ExamSetID:           session.ExamSetID,
			Status:              session.Status,
			TimeMode:            session.TimeMode,
			Parts:               session.SelectedParts.Data(),
			IsRetry:             session.IsRetry,
			RetryOfSessionID:    session.RetryOfSessionID,
			Score:               session.Score,
			TotalQuestions:      session.TotalQuestions,
			CorrectAnswers:      session.CorrectAnswers,
			AnsweredCount:       session.AnsweredCount,
			TimeAllottedSeconds: session.TimeAllottedSeconds,
			TimeSpentSeconds:    session.TimeSpentSeconds,
			StartedAt:           session.StartedAt,
			CompletedAt:         session.CompletedAt,
		})
	}
	return page, nil
}

func (s *examSessionService) Get(ctx context.Context, sessionID uint, userID string) (*SessionView, error) {
	if rt := s.runtime(sessionID); rt != nil {
		if rt.userID != userID {
			return nil, NewPermissionError(userID, sessionID, "session", "view", "session belongs to another user")
		}
		rt.mu.Lock()
		if !rt.closed {
			view := rt.view()
			rt.mu.Unlock()
			return view, nil
		}
		rt.mu.Unlock()
	}

	session, err := s.loadOwned(ctx, sessionID, userID, "view")
	if err != nil {
		return nil, err
	}

	view := recordView(session)
	if session.Status == models.SessionCompleted {
		result, err := s.submission.GetResult(ctx, session)
		if err != nil {
			return nil, err
		}
		view.Result = result
	}
	return view, nil
}

// ===== LIVE INTERACTION =====

func (s *examSessionService) SetAnswer(ctx context.Context, sessionID uint, req *AnswerRequest, userID string) (*AnswerState, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	letter, err := models.ParseLetter(req.Letter)
	if err != nil {
		return nil, err
	}

	rt, err := s.liveRuntime(ctx, sessionID, userID, "answer")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.usable(); err != nil {
		return nil, err
	}
	if rt.timer.State() == engine.TimerExpired {
		return nil, ErrSessionNotActive
	}

	question, ok := rt.set.Question(req.QuestionID)
	if !ok {
		return nil, ErrQuestionNotInSession
	}
	if errs := s.validator.GetBusinessValidator().ValidateAnswerForPart(letter, question.Part); len(errs) > 0 {
		return nil, errs
	}
	if err := rt.ledger.SetAnswer(question.ID, letter); err != nil {
		return nil, err
	}

	return &AnswerState{
		QuestionID:    question.ID,
		Letter:        letter,
		AnsweredCount: rt.ledger.AnsweredCount(),
		TotalCount:    rt.set.Len(),
	}, nil
}

func (s *examSessionService) Navigate(ctx context.Context, sessionID uint, req *NavigateRequest, userID string) (*SessionView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	rt, err := s.liveRuntime(ctx, sessionID, userID, "navigate")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.usable(); err != nil {
		return nil, err
	}
	index := *req.Index
	if index >= rt.set.Len() {
		return nil, engine.ErrQuestionIndexOutOfRange
	}

	now := s.scheduler.Now()
	rt.chargeDwell(now)
	rt.currentIndex = index
	if !rt.enteredAt.IsZero() {
		rt.enteredAt = now
	}
	return rt.view(), nil
}

// Pause stops the countdown and writes a snapshot.
func (s *examSessionService) Pause(ctx context.Context, sessionID uint, userID string) (*TimerView, error) {
	rt, err := s.liveRuntime(ctx, sessionID, userID, "pause")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.usable(); err != nil {
		return nil, err
	}
	if err := rt.timer.Pause(); err != nil {
		return nil, err
	}
	rt.chargeDwell(s.scheduler.Now())
	rt.enteredAt = time.Time{}
	s.saveLocked(ctx, rt)

	s.logger.Debug("Session paused", "session_id", sessionID, "time_remaining", rt.timer.Remaining())
	return rt.timerView(), nil
}

func (s *examSessionService) ResumeTimer(ctx context.Context, sessionID uint, userID string) (*TimerView, error) {
	rt, err := s.liveRuntime(ctx, sessionID, userID, "resume")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.usable(); err != nil {
		return nil, err
	}
	if err := rt.timer.Resume(); err != nil {
		return nil, err
	}
	if rt.enteredAt.IsZero() && rt.timer.State() == engine.TimerRunning {
		rt.enteredAt = s.scheduler.Now()
	}

	s.logger.Debug("Session timer resumed", "session_id", sessionID, "time_remaining", rt.timer.Remaining())
	return rt.timerView(), nil
}

// ===== SUBMISSION =====

func (s *examSessionService) Submit(ctx context.Context, sessionID uint, userID string) (*SessionResult, error) {
	rt := s.runtime(sessionID)
	if rt == nil {
		session, err := s.loadOwned(ctx, sessionID, userID, "submit")
		if err != nil {
			return nil, err
		}
		switch session.Status {
		case models.SessionCompleted:
			return nil, engine.ErrAlreadySubmitted
		case models.SessionInProgress:
			return nil, ErrSessionNotLive
		default:
			return nil, ErrSessionNotActive
		}
	}
	if rt.userID != userID {
		return nil, NewPermissionError(userID, sessionID, "session", "submit", "session belongs to another user")
	}

	return s.submitRuntime(ctx, rt, false)
}

// submitRuntime halts the runtime and hands its final state to the
// submission service. Ticks are cancelled before anything is persisted.
func (s *examSessionService) submitRuntime(ctx context.Context, rt *sessionRuntime, auto bool) (*SessionResult, error) {
	rt.mu.Lock()
	if rt.closed {
		completed := rt.session.Status == models.SessionCompleted
		rt.mu.Unlock()
		if completed {
			return nil, engine.ErrAlreadySubmitted
		}
		return nil, ErrSessionNotLive
	}
	if rt.submitting {
		rt.mu.Unlock()
		return nil, ErrSubmissionInProgress
	}
	rt.submitting = true
	rt.chargeDwell(s.scheduler.Now())
	rt.halt()

	session := *rt.session
	set := rt.set
	entries := rt.ledger.Entries()
	timeSpent := rt.timer.Elapsed()
	remaining := rt.timer.Remaining()
	rt.mu.Unlock()

	result, err := s.submission.Submit(ctx, &session, set, entries, timeSpent, remaining)

	var persistErr *AttemptPersistenceError
	rt.mu.Lock()
	rt.submitting = false
	switch {
	case err == nil, errors.As(err, &persistErr):
		rt.session = &session
		rt.frozen = false
		rt.closed = true
	case errors.Is(err, engine.ErrAlreadySubmitted), errors.Is(err, ErrSessionNotActive):
		rt.closed = true
	default:
		rt.frozen = true
	}
	closed := rt.closed
	rt.mu.Unlock()

	if closed {
		s.release(rt)
	}
	if err != nil && persistErr == nil {
		s.logger.Error("Submission failed",
			"session_id", rt.sessionID,
			"auto", auto,
			"error", err)
		return nil, err
	}

	result.AutoSubmitted = auto
	s.publishSession(ctx, events.SessionCompleted, &session, auto)
	return result, err
}

// expire is the timer's auto-submit callback.
func (s *examSessionService) expire(rt *sessionRuntime) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SubmitTimeout)
	defer cancel()

	s.logger.Info("Time expired, auto-submitting", "session_id", rt.sessionID)
	if _, err := s.submitRuntime(ctx, rt, true); err != nil && !errors.Is(err, engine.ErrAttemptPersistenceFailed) {
		s.logger.Error("Auto-submit failed", "session_id", rt.sessionID, "error", err)
	}
}

func (s *examSessionService) RetryAttemptPersistence(ctx context.Context, sessionID uint, userID string) (*SessionResult, error) {
	session, err := s.loadOwned(ctx, sessionID, userID, "persist attempts of")
	if err != nil {
		return nil, err
	}
	return s.submission.RetryAttemptPersistence(ctx, session)
}

func (s *examSessionService) Cancel(ctx context.Context, sessionID uint, userID string) error {
	if rt := s.runtime(sessionID); rt != nil && rt.userID != userID {
		return NewPermissionError(userID, sessionID, "session", "cancel", "session belongs to another user")
	}

	session, err := s.loadOwned(ctx, sessionID, userID, "cancel")
	if err != nil {
		return err
	}
	if err := s.closeRuntime(sessionID); err != nil {
		return err
	}
	return s.cancelSession(ctx, session)
}

// closeRuntime halts and releases a live runtime without touching the record.
func (s *examSessionService) closeRuntime(sessionID uint) error {
	rt := s.runtime(sessionID)
	if rt == nil {
		return nil
	}

	rt.mu.Lock()
	if rt.submitting {
		rt.mu.Unlock()
		return ErrSubmissionInProgress
	}
	rt.halt()
	rt.closed = true
	rt.mu.Unlock()

	s.release(rt)
	return nil
}

func (s *examSessionService) cancelSession(ctx context.Context, session *models.ExamSession) error {
	err := s.repo.Session().UpdateStatus(ctx, nil, session.ID, models.SessionInProgress, models.SessionCancelled)
	if err != nil {
		if errors.Is(err, repositories.ErrStatusConflict) {
			return ErrSessionNotActive
		}
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	session.Status = models.SessionCancelled
	s.autosave.Purge(ctx, session.ID)

	s.logger.Info("Session cancelled", "session_id", session.ID, "user_id", session.UserID)
	s.publishSession(ctx, events.SessionCancelled, session, false)
	return nil
}

// ===== INTERRUPT GUARD =====

// RequestLeave holds a leave attempt until it is confirmed or cancelled.
// Sessions that are not live let it through.
func (s *examSessionService) RequestLeave(ctx context.Context, sessionID uint, req *LeaveRequest, userID string) (*LeaveResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	rt := s.runtime(sessionID)
	if rt == nil {
		if _, err := s.loadOwned(ctx, sessionID, userID, "leave"); err != nil {
			return nil, err
		}
		return &LeaveResponse{Released: true, Target: req.Target}, nil
	}
	if rt.userID != userID {
		return nil, NewPermissionError(userID, sessionID, "session", "leave", "session belongs to another user")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	held := !rt.closed && rt.guard.RequestLeave(engine.LeaveRequest{
		Kind:        engine.LeaveKind(req.Kind),
		Target:      req.Target,
		Previous:    engine.NavState{QuestionIndex: rt.currentIndex},
		RequestedAt: s.scheduler.Now(),
	})
	if !held {
		return &LeaveResponse{Released: true, Target: req.Target}, nil
	}
	return &LeaveResponse{
		RequiresConfirmation: true,
		Pending:              rt.guard.Pending(),
		Target:               req.Target,
	}, nil
}

// ConfirmLeave saves a snapshot and releases the runtime. The session stays
// in progress and can be resumed later.
func (s *examSessionService) ConfirmLeave(ctx context.Context, sessionID uint, userID string) (*LeaveResponse, error) {
	rt, err := s.liveRuntime(ctx, sessionID, userID, "leave")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil, ErrSessionNotLive
	}
	req, err := rt.guard.Confirm(func() {
		rt.chargeDwell(s.scheduler.Now())
		s.saveLocked(ctx, rt)
	})
	if err != nil {
		rt.mu.Unlock()
		return nil, err
	}
	rt.halt()
	rt.closed = true
	rt.mu.Unlock()

	s.release(rt)
	s.logger.Info("Session left",
		"session_id", sessionID,
		"kind", req.Kind,
		"target", req.Target)

	return &LeaveResponse{Released: true, Target: req.Target}, nil
}

func (s *examSessionService) CancelLeave(ctx context.Context, sessionID uint, userID string) (*SessionView, error) {
	rt, err := s.liveRuntime(ctx, sessionID, userID, "leave")
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	nav, err := rt.guard.Cancel()
	if err != nil {
		return nil, err
	}
	if nav.QuestionIndex != rt.currentIndex {
		now := s.scheduler.Now()
		rt.chargeDwell(now)
		rt.currentIndex = nav.QuestionIndex
		if !rt.enteredAt.IsZero() {
			rt.enteredAt = now
		}
	}
	return rt.view(), nil
}

// ===== RESULTS & RETRY =====

func (s *examSessionService) GetResult(ctx context.Context, sessionID uint, userID string) (*SessionResult, error) {
	session, err := s.loadOwned(ctx, sessionID, userID, "view result of")
	if err != nil {
		return nil, err
	}
	return s.submission.GetResult(ctx, session)
}

// StartRetry opens a new session that replays the served questions of a
// completed one.
func (s *examSessionService) StartRetry(ctx context.Context, sessionID uint, req *RetrySessionRequest, userID string) (*SessionView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	original, err := s.loadOwned(ctx, sessionID, userID, "retry")
	if err != nil {
		return nil, err
	}
	if original.Status != models.SessionCompleted {
		return nil, ErrSessionNotCompleted
	}

	active, err := s.repo.Session().GetActive(ctx, nil, userID, original.ExamSetID)
	switch {
	case err == nil:
		return nil, &DuplicateActiveSessionError{SessionID: active.ID, ExamSetID: active.ExamSetID}
	case !repositories.IsNotFoundError(err):
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	set, err := s.assembler.LoadServed(ctx, original.ExamSetID, original.ServedQuestionIDs.Data())
	if err != nil {
		return nil, err
	}

	mode := req.TimeMode
	if mode == "" {
		mode = original.TimeMode
	}
	parts := original.SelectedParts.Data()
	allotted := models.UnlimitedTime
	if mode == models.TimeModeStandard {
		allotted = original.TimeAllottedSeconds
		if allotted <= 0 {
			examSet, err := s.assembler.LoadExamSet(ctx, original.ExamSetID)
			if err != nil {
				return nil, err
			}
			allotted = s.assembler.AllottedSeconds(examSet, parts, mode)
		}
		if allotted <= 0 {
			return nil, NewBusinessRuleError("time_allotment", "exam set has no time limit for the selected parts", map[string]interface{}{
				"exam_set_id": original.ExamSetID,
			})
		}
	}

	session := s.newSession(userID, original.ExamSetID, mode, parts, set, allotted)
	session.IsRetry = true
	session.RetryOfSessionID = &original.ID
	if err := s.createSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Retry session started",
		"session_id", session.ID,
		"retry_of", original.ID,
		"time_mode", mode)

	rt := s.openRuntime(session, set, engine.NewLedger(), allotted, 0)
	s.publishSession(ctx, events.SessionStarted, session, false)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.view(), nil
}

func (s *examSessionService) CorrectAttempt(ctx context.Context, sessionID, questionID uint, req *CorrectAttemptRequest, userID string) (*SessionResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	letter, err := models.ParseLetter(req.Letter)
	if err != nil {
		return nil, err
	}

	session, err := s.loadOwned(ctx, sessionID, userID, "correct")
	if err != nil {
		return nil, err
	}
	return s.submission.CorrectAttempt(ctx, session, questionID, letter)
}

// ===== RUNTIME REGISTRY =====

func (s *examSessionService) LiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runtimes)
}

// Shutdown writes a last snapshot of every live runtime and halts it. The
// sessions stay in progress.
func (s *examSessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
	}
	s.runtimes = make(map[uint]*sessionRuntime)
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		if !rt.closed && !rt.submitting && !rt.frozen {
			rt.chargeDwell(s.scheduler.Now())
			s.saveLocked(ctx, rt)
		}
		rt.halt()
		rt.closed = true
		rt.mu.Unlock()
	}

	s.logger.Info("Exam session runtimes released", "count", len(runtimes))
	return nil
}

// openRuntime registers a runtime for session and starts its timer and
// auto-save task. An already registered runtime is returned unchanged.
func (s *examSessionService) openRuntime(session *models.ExamSession, set *engine.QuestionSet, ledger *engine.Ledger, remaining, currentIndex int) *sessionRuntime {
	if currentIndex < 0 || currentIndex >= set.Len() {
		currentIndex = 0
	}

	rt := &sessionRuntime{
		sessionID:    session.ID,
		userID:       session.UserID,
		session:      session,
		set:          set,
		ledger:       ledger,
		guard:        engine.NewGuard(),
		currentIndex: currentIndex,
		enteredAt:    s.scheduler.Now(),
	}

	allotted := 0
	if session.Bounded() {
		allotted = session.TimeAllottedSeconds
	}
	rt.timer = engine.NewTimer(s.scheduler, allotted, func() { s.expire(rt) })
	if session.Bounded() {
		rt.timer.Restore(remaining)
	}

	s.mu.Lock()
	if existing, ok := s.runtimes[session.ID]; ok {
		s.mu.Unlock()
		return existing
	}
	s.runtimes[session.ID] = rt
	s.mu.Unlock()

	rt.mu.Lock()
	rt.guard.Arm()
	rt.stopAutosave = s.scheduler.Every(s.config.AutoSaveInterval, func() { s.autosaveTick(rt) })
	rt.mu.Unlock()

	// May expire immediately and submit on this goroutine.
	rt.timer.Start()
	return rt
}

func (s *examSessionService) autosaveTick(rt *sessionRuntime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed || rt.submitting || rt.frozen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.SaveTimeout)
	defer cancel()

	rt.chargeDwell(s.scheduler.Now())
	s.saveLocked(ctx, rt)
}

// saveLocked writes a snapshot of rt. Failures are logged and left for the
// next tick. rt.mu must be held.
func (s *examSessionService) saveLocked(ctx context.Context, rt *sessionRuntime) {
	snap := rt.snapshot(s.scheduler.Now())
	if err := s.autosave.Save(ctx, snap); err != nil {
		s.logger.Warn("Snapshot write failed, retrying on next tick",
			"session_id", rt.sessionID,
			"error", err)
		return
	}
	savedAt := snap.SavedAt()
	rt.session.LastSavedAt = &savedAt
}

func (s *examSessionService) runtime(sessionID uint) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimes[sessionID]
}

func (s *examSessionService) release(rt *sessionRuntime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtimes[rt.sessionID] == rt {
		delete(s.runtimes, rt.sessionID)
	}
}

// liveRuntime returns the open runtime of a session owned by userID.
func (s *examSessionService) liveRuntime(ctx context.Context, sessionID uint, userID, action string) (*sessionRuntime, error) {
	rt := s.runtime(sessionID)
	if rt == nil {
		session, err := s.loadOwned(ctx, sessionID, userID, action)
		if err != nil {
			return nil, err
		}
		if session.Status == models.SessionInProgress {
			return nil, ErrSessionNotLive
		}
		return nil, ErrSessionNotActive
	}
	if rt.userID != userID {
		return nil, NewPermissionError(userID, sessionID, "session", action, "session belongs to another user")
	}
	return rt, nil
}

func (s *examSessionService) loadOwned(ctx context.Context, sessionID uint, userID, action string) (*models.ExamSession, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != userID {
		return nil, NewPermissionError(userID, sessionID, "session", action, "session belongs to another user")
	}
	return session, nil
}

func (s *examSessionService) newSession(userID string, examSetID uint, mode models.TimeMode, parts []models.Part, set *engine.QuestionSet, allotted int) *models.ExamSession {
	now := s.scheduler.Now()
	if mode == models.TimeModeUnlimited {
		allotted = models.UnlimitedTime
	}
	if parts == nil {
		parts = []models.Part{}
	}
	return &models.ExamSession{
		UserID:               userID,
		ExamSetID:            examSetID,
		Status:               models.SessionInProgress,
		TimeMode:             mode,
		SelectedParts:        datatypes.NewJSONType(parts),
		StartedAt:            &now,
		TimeAllottedSeconds:  allotted,
		TimeRemainingSeconds: allotted,
		TotalQuestions:       set.Len(),
		ServedQuestionIDs:    datatypes.NewJSONType(set.IDs()),
		AnswersSnapshot:      datatypes.NewJSONType([]models.AnswerEntry{}),
	}
}

// createSession inserts session. A unique-index violation means another
// request opened a session for the same exam set first.
func (s *examSessionService) createSession(ctx context.Context, session *models.ExamSession) error {
	err := s.repo.Session().Create(ctx, nil, session)
	if err == nil {
		return nil
	}
	if repositories.IsDuplicateKeyError(err) {
		if existing, getErr := s.repo.Session().GetActive(ctx, nil, session.UserID, session.ExamSetID); getErr == nil {
			return &DuplicateActiveSessionError{SessionID: existing.ID, ExamSetID: existing.ExamSetID}
		}
		return engine.ErrDuplicateActiveSession
	}
	return fmt.Errorf("failed to create session: %w", err)
}

func (s *examSessionService) publishSession(ctx context.Context, eventType string, session *models.ExamSession, auto bool) {
	data := events.SessionEventData{
		SessionID:      session.ID,
		UserID:         session.UserID,
		ExamSetID:      session.ExamSetID,
		Status:         string(session.Status),
		TimeMode:       string(session.TimeMode),
		TotalQuestions: session.TotalQuestions,
		AutoSubmitted:  auto,
		IsRetry:        session.IsRetry,
	}
	if session.Status == models.SessionCompleted {
		score := session.Score
		data.Score = &score
		data.CorrectAnswers = session.CorrectAnswers
		data.TimeSpentSeconds = session.TimeSpentSeconds
	}

	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Warn("Failed to publish session event",
			"event_type", eventType,
			"session_id", session.ID,
			"error", err)
	}
}

// recordView renders a session that has no live runtime.
func recordView(session *models.ExamSession) *SessionView {
	answers := make(map[uint]models.Letter)
	for _, e := range session.AnswersSnapshot.Data() {
		if e.ChosenLetter != nil {
			answers[e.QuestionID] = *e.ChosenLetter
		}
	}
	return &SessionView{
		Session:       session,
		TimeRemaining: session.TimeRemainingSeconds,
		Clock:         engine.FormatClock(session.TimeRemainingSeconds),
		CurrentIndex:  session.CurrentQuestionIndex,
		AnsweredCount: len(answers),
		Answers:       answers,
	}
}
