package engine

import "errors"

var (
	ErrEmptyQuestionSet         = errors.New("question set is empty")
	ErrAlreadySubmitted         = errors.New("session already submitted")
	ErrNoQuestionsToScore       = errors.New("no questions to score")
	ErrDuplicateActiveSession   = errors.New("an in-progress session already exists for this exam set")
	ErrSnapshotWriteFailed      = errors.New("snapshot write failed")
	ErrAttemptPersistenceFailed = errors.New("results saved, details failed")

	ErrPauseUnsupported        = errors.New("pause is only available in standard time mode")
	ErrInvalidLetter           = errors.New("invalid answer letter")
	ErrServedQuestionMissing   = errors.New("served question no longer exists")
	ErrNoPendingLeave          = errors.New("no pending leave request")
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
)
