package models

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

type TimeMode string

const (
	TimeModeStandard  TimeMode = "standard"
	TimeModeUnlimited TimeMode = "unlimited"
)

// UnlimitedTime is stored in time fields of unlimited sessions.
const UnlimitedTime = -1

// AnswerEntry is the persisted form of one ledger entry.
type AnswerEntry struct {
	QuestionID       uint    `json:"question_id"`
	ChosenLetter     *Letter `json:"chosen_letter"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

type ExamSession struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	UserID    string        `json:"user_id" gorm:"not null;index:idx_session_user_set;size:255"`
	ExamSetID uint          `json:"exam_set_id" gorm:"not null;index:idx_session_user_set"`
	Status    SessionStatus `json:"status" gorm:"not null;default:not_started;index;size:20"`
	TimeMode  TimeMode      `json:"time_mode" gorm:"not null;default:standard;size:20"`

	SelectedParts datatypes.JSONType[[]Part] `json:"selected_parts" gorm:"type:jsonb"`

	// Timing, whole seconds. Remaining is UnlimitedTime in unlimited mode.
	StartedAt            *time.Time `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	TimeAllottedSeconds  int        `json:"time_allotted_seconds"`
	TimeRemainingSeconds int        `json:"time_remaining_seconds"`
	TimeSpentSeconds     int        `json:"time_spent_seconds"`

	// Results, set once on completion.
	Score          int `json:"score"`
	TotalQuestions int `json:"total_questions"`
	CorrectAnswers int `json:"correct_answers"`
	AnsweredCount  int `json:"answered_count"`

	// Frozen at start; resume and retry replay exactly this order.
	ServedQuestionIDs datatypes.JSONType[[]uint] `json:"served_question_ids" gorm:"type:jsonb"`

	// Auto-save fields
	CurrentQuestionIndex int                               `json:"current_question_index"`
	AnswersSnapshot      datatypes.JSONType[[]AnswerEntry] `json:"-" gorm:"type:jsonb"`
	LastSavedAt          *time.Time                        `json:"last_saved_at"`

	IsRetry           bool  `json:"is_retry" gorm:"default:false"`
	RetryOfSessionID  *uint `json:"retry_of_session_id" gorm:"index"`
	AttemptsPersisted bool  `json:"attempts_persisted" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExamSet  *ExamSet  `json:"exam_set,omitempty" gorm:"foreignKey:ExamSetID"`
	Attempts []Attempt `json:"attempts,omitempty" gorm:"foreignKey:SessionID"`
}

func (ExamSession) TableName() string {
	return "exam_sessions"
}

// Bounded reports whether the session counts down.
func (s *ExamSession) Bounded() bool {
	return s.TimeMode != TimeModeUnlimited
}
