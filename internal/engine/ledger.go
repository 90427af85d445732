package engine

import (
	"sync"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// Ledger is the in-memory answer sheet of a live session. Entries are never
// removed; a later SetAnswer for the same question replaces the letter.
type Ledger struct {
	mu      sync.RWMutex
	entries map[uint]*models.AnswerEntry
	order   []uint
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[uint]*models.AnswerEntry)}
}

// NewLedgerFrom rebuilds a ledger from persisted entries.
func NewLedgerFrom(entries []models.AnswerEntry) *Ledger {
	l := NewLedger()
	for _, e := range entries {
		entry := l.entry(e.QuestionID)
		if e.ChosenLetter != nil {
			letter := *e.ChosenLetter
			entry.ChosenLetter = &letter
		}
		entry.TimeSpentSeconds += e.TimeSpentSeconds
	}
	return l
}

func (l *Ledger) SetAnswer(questionID uint, letter models.Letter) error {
	if !letter.Valid() {
		return ErrInvalidLetter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entry(questionID).ChosenLetter = &letter
	return nil
}

// GetAnswer returns the chosen letter, or nil when the question is unanswered.
func (l *Ledger) GetAnswer(questionID uint) *models.Letter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[questionID]
	if !ok || e.ChosenLetter == nil {
		return nil
	}
	letter := *e.ChosenLetter
	return &letter
}

func (l *Ledger) AnsweredCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries {
		if e.ChosenLetter != nil {
			n++
		}
	}
	return n
}

// AddTimeSpent charges dwell time to a question, answered or not.
func (l *Ledger) AddTimeSpent(questionID uint, seconds int) {
	if seconds <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entry(questionID).TimeSpentSeconds += seconds
}

// Entries returns a copy of every entry in first-touched order.
func (l *Ledger) Entries() []models.AnswerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.AnswerEntry, 0, len(l.order))
	for _, id := range l.order {
		e := *l.entries[id]
		if e.ChosenLetter != nil {
			letter := *e.ChosenLetter
			e.ChosenLetter = &letter
		}
		out = append(out, e)
	}
	return out
}

// Answers returns question id -> chosen letter for answered questions.
func (l *Ledger) Answers() map[uint]models.Letter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uint]models.Letter, len(l.entries))
	for id, e := range l.entries {
		if e.ChosenLetter != nil {
			out[id] = *e.ChosenLetter
		}
	}
	return out
}

func (l *Ledger) entry(questionID uint) *models.AnswerEntry {
	e, ok := l.entries[questionID]
	if !ok {
		e = &models.AnswerEntry{QuestionID: questionID}
		l.entries[questionID] = e
		l.order = append(l.order, questionID)
	}
	return e
}
