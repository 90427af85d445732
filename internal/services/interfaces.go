package services

import (
	"context"
	"io"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== REQUEST DTOs =====

// Use validator types
type StartSessionRequest = validator.StartSessionRequest
type AnswerRequest = validator.AnswerRequest
type NavigateRequest = validator.NavigateRequest
type LeaveRequest = validator.LeaveRequest
type CorrectAttemptRequest = validator.CorrectAttemptRequest
type RetrySessionRequest = validator.RetrySessionRequest
type UpdateExamSetRequest = validator.UpdateExamSetRequest
type ExamSetListQuery = validator.ExamSetListQuery
type SessionHistoryQuery = validator.SessionHistoryQuery

// ===== RESPONSE DTOs =====

type ChoiceView struct {
	Letter models.Letter `json:"letter"`
	Text   string        `json:"text,omitempty"`
}

// QuestionView is a served question without its answer key.
type QuestionView struct {
	Number     int          `json:"number"`
	ID         uint         `json:"id"`
	Part       models.Part  `json:"part"`
	PassageID  *uint        `json:"passage_id,omitempty"`
	BlankIndex *int         `json:"blank_index,omitempty"`
	Text       string       `json:"text,omitempty"`
	ImageURL   *string      `json:"image_url,omitempty"`
	AudioURL   *string      `json:"audio_url,omitempty"`
	Choices    []ChoiceView `json:"choices"`
}

type PassageView struct {
	ID                  uint        `json:"id"`
	Part                models.Part `json:"part"`
	Content             string      `json:"content,omitempty"`
	ImageURL            *string     `json:"image_url,omitempty"`
	AudioURL            *string     `json:"audio_url,omitempty"`
	StartQuestionNumber *int        `json:"start_question_number,omitempty"`
}

type QuestionSetView struct {
	ExamSetID           uint           `json:"exam_set_id"`
	Title               string         `json:"title"`
	Parts               []models.Part  `json:"parts"`
	TimeAllottedSeconds int            `json:"time_allotted_seconds"`
	Questions           []QuestionView `json:"questions"`
	Passages            []PassageView  `json:"passages"`
}

// SessionView is the state a client needs to render a session.
type SessionView struct {
	Session       *models.ExamSession    `json:"session"`
	Live          bool                   `json:"live"`
	Resumed       bool                   `json:"resumed,omitempty"`
	TimerState    engine.TimerState      `json:"timer_state,omitempty"`
	TimeRemaining int                    `json:"time_remaining"`
	Clock         string                 `json:"clock"`
	CurrentIndex  int                    `json:"current_index"`
	AnsweredCount int                    `json:"answered_count"`
	Answers       map[uint]models.Letter `json:"answers"`
	Questions     []QuestionView         `json:"questions,omitempty"`
	Passages      []PassageView          `json:"passages,omitempty"`
	PendingLeave  *engine.LeaveRequest   `json:"pending_leave,omitempty"`
	Result        *SessionResult         `json:"result,omitempty"`
}

type AnswerState struct {
	QuestionID    uint          `json:"question_id"`
	Letter        models.Letter `json:"letter"`
	AnsweredCount int           `json:"answered_count"`
	TotalCount    int           `json:"total_count"`
}

type TimerView struct {
	State         engine.TimerState `json:"state"`
	TimeRemaining int               `json:"time_remaining"`
	Clock         string            `json:"clock"`
}

type LeaveResponse struct {
	RequiresConfirmation bool                 `json:"requires_confirmation"`
	Released             bool                 `json:"released"`
	Pending              *engine.LeaveRequest `json:"pending,omitempty"`
	Target               string               `json:"target,omitempty"`
}

type AttemptView struct {
	Position         int            `json:"position"`
	QuestionID       uint           `json:"question_id"`
	Part             models.Part    `json:"part"`
	ChosenLetter     *models.Letter `json:"chosen_letter"`
	CorrectChoice    models.Letter  `json:"correct_choice"`
	IsCorrect        bool           `json:"is_correct"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	Explanation      *string        `json:"explanation,omitempty"`
	CorrectedAt      *time.Time     `json:"corrected_at,omitempty"`
}

type SessionResult struct {
	SessionID         uint                 `json:"session_id"`
	ExamSetID         uint                 `json:"exam_set_id"`
	Status            models.SessionStatus `json:"status"`
	IsRetry           bool                 `json:"is_retry"`
	AutoSubmitted     bool                 `json:"auto_submitted,omitempty"`
	Score             int                  `json:"score"`
	TotalQuestions    int                  `json:"total_questions"`
	CorrectAnswers    int                  `json:"correct_answers"`
	IncorrectAnswers  int                  `json:"incorrect_answers"`
	AnsweredCount     int                  `json:"answered_count"`
	TimeSpentSeconds  int                  `json:"time_spent_seconds"`
	TimeSpent         string               `json:"time_spent"`
	CompletedAt       *time.Time           `json:"completed_at"`
	AttemptsPersisted bool                 `json:"attempts_persisted"`
	Attempts          []AttemptView        `json:"attempts,omitempty"`
}

// ExamSetSummary describes an exam set without its content.
type ExamSetSummary struct {
	ID               uint                `json:"id"`
	Title            string              `json:"title"`
	Description      *string             `json:"description,omitempty"`
	TimeLimitMinutes int                 `json:"time_limit_minutes"`
	PartMinutes      map[models.Part]int `json:"part_minutes"`
	Parts            []models.Part       `json:"parts"`
	QuestionCount    int                 `json:"question_count"`
	CreatedAt        time.Time           `json:"created_at"`
}

type ExamSetPage struct {
	Items  []ExamSetSummary `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// SessionSummary is one row of a user's session history.
type SessionSummary struct {
	ID                  uint                 `json:"id"`
	ExamSetID           uint                 `json:"exam_set_id"`
	Status              models.SessionStatus `json:"status"`
	TimeMode            models.TimeMode      `json:"time_mode"`
	Parts               []models.Part        `json:"parts"`
	IsRetry             bool                 `json:"is_retry"`
	RetryOfSessionID    *uint                `json:"retry_of_session_id,omitempty"`
	Score               int                  `json:"score"`
	TotalQuestions      int                  `json:"total_questions"`
	CorrectAnswers      int                  `json:"correct_answers"`
	AnsweredCount       int                  `json:"answered_count"`
	TimeAllottedSeconds int                  `json:"time_allotted_seconds"`
	TimeSpentSeconds    int                  `json:"time_spent_seconds"`
	StartedAt           *time.Time           `json:"started_at"`
	CompletedAt         *time.Time           `json:"completed_at"`
}

type SessionPage struct {
	Items  []SessionSummary `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type ImportOptions struct {
	Title            string
	Description      *string
	TimeLimitMinutes int
	PartMinutes      map[models.Part]int
}

type ImportReport struct {
	ExamSetID uint          `json:"exam_set_id"`
	Title     string        `json:"title"`
	Passages  int           `json:"passages"`
	Questions int           `json:"questions"`
	Parts     []models.Part `json:"parts"`
}

// ===== COLLABORATORS =====

// SnapshotStore is the durable key-value store for auto-save payloads.
type SnapshotStore interface {
	Put(ctx context.Context, snap *engine.Snapshot) error
	Get(ctx context.Context, sessionID uint) (*engine.Snapshot, error)
	Delete(ctx context.Context, sessionID uint) error
}

// ===== SERVICES =====

// AssemblerService loads exam content and orders it into question sets.
type AssemblerService interface {
	LoadExamSet(ctx context.Context, examSetID uint) (*models.ExamSet, error)
	Assemble(ctx context.Context, examSetID uint, parts []models.Part) (*engine.QuestionSet, error)
	LoadServed(ctx context.Context, examSetID uint, servedIDs []uint) (*engine.QuestionSet, error)
	AvailableParts(ctx context.Context, examSetID uint) ([]models.Part, error)
	AllottedSeconds(set *models.ExamSet, parts []models.Part, mode models.TimeMode) int
	Preview(ctx context.Context, examSetID uint, parts []models.Part) (*QuestionSetView, error)
}

// AutoSaveService persists and restores session snapshots.
type AutoSaveService interface {
	Save(ctx context.Context, snap *engine.Snapshot) error
	Load(ctx context.Context, session *models.ExamSession) (*engine.Snapshot, error)
	Purge(ctx context.Context, sessionID uint)
}

// SubmissionService turns a final ledger into a completed session.
type SubmissionService interface {
	Submit(ctx context.Context, session *models.ExamSession, set *engine.QuestionSet, entries []models.AnswerEntry, timeSpent, timeRemaining int) (*SessionResult, error)
	RetryAttemptPersistence(ctx context.Context, session *models.ExamSession) (*SessionResult, error)
	CorrectAttempt(ctx context.Context, session *models.ExamSession, questionID uint, letter models.Letter) (*SessionResult, error)
	GetResult(ctx context.Context, session *models.ExamSession) (*SessionResult, error)
}

// ExamSessionService owns the live runtime of every open session.
type ExamSessionService interface {
	Start(ctx context.Context, req *StartSessionRequest, userID string) (*SessionView, error)
	GetActive(ctx context.Context, examSetID uint, userID string) (*models.ExamSession, error)
	Get(ctx context.Context, sessionID uint, userID string) (*SessionView, error)
	History(ctx context.Context, userID string, q *SessionHistoryQuery) (*SessionPage, error)

	SetAnswer(ctx context.Context, sessionID uint, req *AnswerRequest, userID string) (*AnswerState, error)
	Navigate(ctx context.Context, sessionID uint, req *NavigateRequest, userID string) (*SessionView, error)
	Pause(ctx context.Context, sessionID uint, userID string) (*TimerView, error)
	ResumeTimer(ctx context.Context, sessionID uint, userID string) (*TimerView, error)

	Submit(ctx context.Context, sessionID uint, userID string) (*SessionResult, error)
	RetryAttemptPersistence(ctx context.Context, sessionID uint, userID string) (*SessionResult, error)
	Cancel(ctx context.Context, sessionID uint, userID string) error

	RequestLeave(ctx context.Context, sessionID uint, req *LeaveRequest, userID string) (*LeaveResponse, error)
	ConfirmLeave(ctx context.Context, sessionID uint, userID string) (*LeaveResponse, error)
	CancelLeave(ctx context.Context, sessionID uint, userID string) (*SessionView, error)

	GetResult(ctx context.Context, sessionID uint, userID string) (*SessionResult, error)
	StartRetry(ctx context.Context, sessionID uint, req *RetrySessionRequest, userID string) (*SessionView, error)
	CorrectAttempt(ctx context.Context, sessionID, questionID uint, req *CorrectAttemptRequest, userID string) (*SessionResult, error)

	// LiveSessions returns the number of open runtimes.
	LiveSessions() int

	// Shutdown snapshots and releases every open runtime.
	Shutdown(ctx context.Context) error
}

// ExamSetService exposes the exam set catalogue.
type ExamSetService interface {
	List(ctx context.Context, q *ExamSetListQuery) (*ExamSetPage, error)
	Get(ctx context.Context, examSetID uint) (*ExamSetSummary, error)
	Update(ctx context.Context, examSetID uint, req *UpdateExamSetRequest) (*ExamSetSummary, error)
}

// ImportService loads exam sets from spreadsheet workbooks.
type ImportService interface {
	ImportWorkbook(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportReport, error)
}

// ServiceManager manages all services
type ServiceManager interface {
	Assembler() AssemblerService
	ExamSession() ExamSessionService
	ExamSets() ExamSetService
	Import() ImportService

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
