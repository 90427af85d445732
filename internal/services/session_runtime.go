package services

import (
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// sessionRuntime is the live state of one open session. Timer ticks,
// auto-save ticks and user requests are serialised on mu.
type sessionRuntime struct {
	mu sync.Mutex

	// Immutable after creation.
	sessionID uint
	userID    string

	session *models.ExamSession
	set     *engine.QuestionSet
	ledger  *engine.Ledger
	timer   *engine.Timer
	guard   *engine.Guard

	currentIndex int
	// Start of the current question's dwell; zero while paused.
	enteredAt time.Time

	submitting bool
	// The completion write failed; only a new submit is accepted.
	frozen bool
	closed bool

	stopAutosave func()
}

func (rt *sessionRuntime) usable() error {
	switch {
	case rt.closed:
		return ErrSessionNotLive
	case rt.submitting:
		return ErrSubmissionInProgress
	case rt.frozen:
		return ErrSubmissionPending
	}
	return nil
}

// chargeDwell credits whole seconds spent on the current question. The
// fractional remainder carries over to the next charge.
func (rt *sessionRuntime) chargeDwell(now time.Time) {
	if rt.enteredAt.IsZero() {
		return
	}
	secs := int(now.Sub(rt.enteredAt) / time.Second)
	if secs <= 0 {
		return
	}
	item, err := rt.set.At(rt.currentIndex)
	if err != nil {
		return
	}
	rt.ledger.AddTimeSpent(item.Question.ID, secs)
	rt.enteredAt = rt.enteredAt.Add(time.Duration(secs) * time.Second)
}

// halt stops every background task of the runtime.
func (rt *sessionRuntime) halt() {
	rt.timer.Stop()
	if rt.stopAutosave != nil {
		rt.stopAutosave()
	}
	rt.guard.Disarm()
	rt.enteredAt = time.Time{}
}

func (rt *sessionRuntime) snapshot(now time.Time) *engine.Snapshot {
	return engine.NewSnapshot(rt.sessionID, rt.session.ExamSetID, rt.currentIndex, rt.ledger, rt.timer, rt.set.IDs(), now)
}

func (rt *sessionRuntime) timerView() *TimerView {
	remaining := rt.timer.Remaining()
	return &TimerView{
		State:         rt.timer.State(),
		TimeRemaining: remaining,
		Clock:         engine.FormatClock(remaining),
	}
}

func (rt *sessionRuntime) view() *SessionView {
	session := *rt.session
	remaining := rt.timer.Remaining()
	session.TimeRemainingSeconds = remaining
	session.CurrentQuestionIndex = rt.currentIndex
	session.AnsweredCount = rt.ledger.AnsweredCount()

	questions, passages := questionViews(rt.set)
	return &SessionView{
		Session:       &session,
		Live:          !rt.closed,
		TimerState:    rt.timer.State(),
		TimeRemaining: remaining,
		Clock:         engine.FormatClock(remaining),
		CurrentIndex:  rt.currentIndex,
		AnsweredCount: session.AnsweredCount,
		Answers:       rt.ledger.Answers(),
		Questions:     questions,
		Passages:      passages,
		PendingLeave:  rt.guard.Pending(),
	}
}
