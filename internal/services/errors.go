package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

var (
	ErrExamSetNotFound      = errors.New("exam set not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotActive     = errors.New("session is not in progress")
	ErrSessionNotLive       = errors.New("session is not open; resume it first")
	ErrSessionNotCompleted  = errors.New("session is not completed")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrSubmissionPending    = errors.New("previous submission failed; submit again")
	ErrQuestionNotInSession = errors.New("question is not part of this session")
	ErrNotRetrySession      = errors.New("answers can only be corrected on a retry session")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrInvalidWorkbook      = errors.New("invalid exam workbook")
)

type ValidationErrors = validator.ValidationErrors

// PermissionError is returned when a user touches a resource they do not own.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

// DuplicateActiveSessionError carries the in-progress session the caller
// must resume or restart.
type DuplicateActiveSessionError struct {
	SessionID uint
	ExamSetID uint
}

func (e *DuplicateActiveSessionError) Error() string {
	return fmt.Sprintf("session %d is already in progress for exam set %d", e.SessionID, e.ExamSetID)
}

func (e *DuplicateActiveSessionError) Unwrap() error {
	return engine.ErrDuplicateActiveSession
}

// AttemptPersistenceError reports a completed session whose per-question
// attempts could not be written. The score is already stored.
type AttemptPersistenceError struct {
	SessionID uint
	Result    *SessionResult
	Err       error
}

func (e *AttemptPersistenceError) Error() string {
	return fmt.Sprintf("session %d: %v: %v", e.SessionID, engine.ErrAttemptPersistenceFailed, e.Err)
}

func (e *AttemptPersistenceError) Unwrap() []error {
	return []error{engine.ErrAttemptPersistenceFailed, e.Err}
}
