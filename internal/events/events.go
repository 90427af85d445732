package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventSource  = "exam-session-service"
	EventVersion = "1.0"
)

const (
	SessionStarted   = "exam_session.started"
	SessionResumed   = "exam_session.resumed"
	SessionCompleted = "exam_session.completed"
	SessionCancelled = "exam_session.cancelled"
)

type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionEventData is the payload of every exam_session.* event.
type SessionEventData struct {
	SessionID        uint   `json:"session_id"`
	UserID           string `json:"user_id"`
	ExamSetID        uint   `json:"exam_set_id"`
	Status           string `json:"status"`
	TimeMode         string `json:"time_mode,omitempty"`
	TotalQuestions   int    `json:"total_questions"`
	CorrectAnswers   int    `json:"correct_answers,omitempty"`
	Score            *int   `json:"score,omitempty"`
	TimeSpentSeconds int    `json:"time_spent_seconds,omitempty"`
	AutoSubmitted    bool   `json:"auto_submitted,omitempty"`
	IsRetry          bool   `json:"is_retry,omitempty"`
}

func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
