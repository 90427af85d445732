package validator

import (
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ExistingAction resolves a start request that collides with an in-progress session.
type ExistingAction string

const (
	ExistingNone    ExistingAction = ""
	ExistingResume  ExistingAction = "resume"
	ExistingRestart ExistingAction = "restart"
)

// StartSessionRequest starts (or resumes) a session on an exam set.
// Empty Parts means the whole exam with its flat time limit.
type StartSessionRequest struct {
	ExamSetID  uint            `json:"exam_set_id" validate:"required"`
	Parts      []models.Part   `json:"parts" validate:"omitempty,max=7,dive,exam_part"`
	TimeMode   models.TimeMode `json:"time_mode" validate:"omitempty,time_mode"`
	OnExisting ExistingAction  `json:"on_existing" validate:"omitempty,existing_action"`
}

type AnswerRequest struct {
	QuestionID uint   `json:"question_id" validate:"required"`
	Letter     string `json:"letter" validate:"required,answer_letter"`
}

type NavigateRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

// LeaveRequest reports an attempt to navigate away or close the exam.
type LeaveRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=navigation close"`
	Target string `json:"target" validate:"omitempty,max=500"`
}

// CorrectAttemptRequest rewrites one answer of a completed retry session.
type CorrectAttemptRequest struct {
	Letter string `json:"letter" validate:"required,answer_letter"`
}

type RetrySessionRequest struct {
	TimeMode models.TimeMode `json:"time_mode" validate:"omitempty,time_mode"`
}

// UpdateExamSetRequest changes exam set metadata. Questions are immutable;
// import a new set to change content. New limits apply to sessions started
// afterwards.
type UpdateExamSetRequest struct {
	Title            *string             `json:"title" validate:"omitempty,min=1,max=200"`
	Description      *string             `json:"description" validate:"omitempty,max=2000"`
	TimeLimitMinutes *int                `json:"time_limit_minutes" validate:"omitempty,min=1,max=600"`
	PartMinutes      map[models.Part]int `json:"part_minutes" validate:"omitempty,dive,keys,exam_part,endkeys,min=0,max=180"`
}

type ExamSetListQuery struct {
	Search    string `form:"search" validate:"omitempty,max=200"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset    int    `form:"offset" validate:"omitempty,min=0"`
	SortBy    string `form:"sort_by" validate:"omitempty,oneof=created_at title id"`
	SortOrder string `form:"sort_order" validate:"omitempty,oneof=asc desc"`
}

// SessionHistoryQuery filters the caller's own sessions.
type SessionHistoryQuery struct {
	ExamSetID uint   `form:"exam_set_id"`
	Status    string `form:"status" validate:"omitempty,oneof=in_progress completed cancelled"`
	IsRetry   *bool  `form:"is_retry"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset    int    `form:"offset" validate:"omitempty,min=0"`
	SortBy    string `form:"sort_by" validate:"omitempty,oneof=created_at completed_at score"`
	SortOrder string `form:"sort_order" validate:"omitempty,oneof=asc desc"`
}
