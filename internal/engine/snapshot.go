package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// Snapshot is the auto-save payload written to the snapshot store.
type Snapshot struct {
	SessionID         uint         `json:"sessionId"`
	ExamSetID         uint         `json:"examSetId"`
	CurrentIndex      int          `json:"currentIndex"`
	Answers           []AnswerPair `json:"answers"`
	TimeRemaining     int          `json:"timeRemaining"`
	ServedQuestionIDs []uint       `json:"servedQuestionIds"`
	Timestamp         int64        `json:"timestamp"`

	// Per-question dwell time; absent in payloads from older writers.
	QuestionTime map[uint]int `json:"questionTime,omitempty"`
}

// AnswerPair encodes as [questionId, "A"] or [questionId, null].
type AnswerPair struct {
	QuestionID uint
	Answer     *models.Letter
}

func (p AnswerPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.QuestionID, p.Answer})
}

func (p *AnswerPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("answer pair: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.QuestionID); err != nil {
		return fmt.Errorf("answer pair question id: %w", err)
	}
	var letter *string
	if err := json.Unmarshal(raw[1], &letter); err != nil {
		return fmt.Errorf("answer pair letter: %w", err)
	}
	p.Answer = nil
	if letter != nil {
		l, err := models.ParseLetter(*letter)
		if err != nil {
			return err
		}
		p.Answer = &l
	}
	return nil
}

// NewSnapshot captures ledger and timer state at now.
func NewSnapshot(sessionID, examSetID uint, currentIndex int, ledger *Ledger, timer *Timer, served []uint, now time.Time) *Snapshot {
	entries := ledger.Entries()
	s := &Snapshot{
		SessionID:         sessionID,
		ExamSetID:         examSetID,
		CurrentIndex:      currentIndex,
		Answers:           make([]AnswerPair, 0, len(entries)),
		TimeRemaining:     timer.Remaining(),
		ServedQuestionIDs: append([]uint(nil), served...),
		Timestamp:         now.UnixMilli(),
		QuestionTime:      make(map[uint]int),
	}
	for _, e := range entries {
		s.Answers = append(s.Answers, AnswerPair{QuestionID: e.QuestionID, Answer: e.ChosenLetter})
		if e.TimeSpentSeconds > 0 {
			s.QuestionTime[e.QuestionID] = e.TimeSpentSeconds
		}
	}
	return s
}

// Entries converts the payload back into ledger entries.
func (s *Snapshot) Entries() []models.AnswerEntry {
	entries := make([]models.AnswerEntry, 0, len(s.Answers))
	seen := make(map[uint]bool, len(s.Answers))
	for _, p := range s.Answers {
		entries = append(entries, models.AnswerEntry{
			QuestionID:       p.QuestionID,
			ChosenLetter:     p.Answer,
			TimeSpentSeconds: s.QuestionTime[p.QuestionID],
		})
		seen[p.QuestionID] = true
	}
	for id, secs := range s.QuestionTime {
		if !seen[id] {
			entries = append(entries, models.AnswerEntry{QuestionID: id, TimeSpentSeconds: secs})
		}
	}
	return entries
}

func (s *Snapshot) SavedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}
