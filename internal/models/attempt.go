package models

import (
	"time"
)

// Attempt is the scored answer to one served question of a completed session.
type Attempt struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	SessionID  uint `json:"session_id" gorm:"not null;uniqueIndex:idx_attempt_session_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_session_question;index"`
	Position   int  `json:"position" gorm:"not null;default:0"`

	ChosenLetter     *Letter `json:"chosen_letter" gorm:"size:1"`
	CorrectChoice    Letter  `json:"correct_choice" gorm:"size:1;not null"`
	IsCorrect        bool    `json:"is_correct" gorm:"not null;default:false"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`

	// Set when a retry-mode correction rewrote the answer.
	CorrectedAt *time.Time `json:"corrected_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Question *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
}

func (Attempt) TableName() string {
	return "attempts"
}
