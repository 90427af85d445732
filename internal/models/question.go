package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Part identifies one of the seven sections of an exam set.
type Part int

const (
	PartPhotographs        Part = 1
	PartQuestionResponse   Part = 2
	PartConversations      Part = 3
	PartTalks              Part = 4
	PartIncompleteSentence Part = 5
	PartTextCompletion     Part = 6
	PartReading            Part = 7
)

const (
	MinPart = PartPhotographs
	MaxPart = PartReading
)

func (p Part) Valid() bool {
	return p >= MinPart && p <= MaxPart
}

// GroupedByPassage reports whether questions of this part are delivered as passage groups.
func (p Part) GroupedByPassage() bool {
	switch p {
	case PartConversations, PartTalks, PartTextCompletion, PartReading:
		return true
	}
	return false
}

// Letters returns the answer letters a question of this part may use.
func (p Part) Letters() []Letter {
	if p == PartQuestionResponse {
		return []Letter{LetterA, LetterB, LetterC}
	}
	return []Letter{LetterA, LetterB, LetterC, LetterD}
}

// AllowsLetter reports whether l is a legal answer for this part.
func (p Part) AllowsLetter(l Letter) bool {
	for _, allowed := range p.Letters() {
		if allowed == l {
			return true
		}
	}
	return false
}

// StandardPartMinutes is the default time allotment for each part.
var StandardPartMinutes = map[Part]int{
	PartPhotographs:        6,
	PartQuestionResponse:   8,
	PartConversations:      17,
	PartTalks:              14,
	PartIncompleteSentence: 12,
	PartTextCompletion:     8,
	PartReading:            55,
}

type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
)

// ChoiceCount is the fixed number of choice slots on every question.
const ChoiceCount = 4

var allLetters = [ChoiceCount]Letter{LetterA, LetterB, LetterC, LetterD}

// ParseLetter normalises s ("a", " B ") into a Letter.
func ParseLetter(s string) (Letter, error) {
	l := Letter(strings.ToUpper(strings.TrimSpace(s)))
	if l.Index() < 0 {
		return "", fmt.Errorf("invalid answer letter %q", s)
	}
	return l, nil
}

// Index returns the slot of l in a Choices array, or -1.
func (l Letter) Index() int {
	for i, candidate := range allLetters {
		if candidate == l {
			return i
		}
	}
	return -1
}

func (l Letter) Valid() bool {
	return l.Index() >= 0
}

// NoChoiceText marks a choice slot without display text (audio-only parts).
const NoChoiceText = ""

// Choices holds the display text of each letter, indexed by Letter.Index.
type Choices [ChoiceCount]string

// Text returns the text for l; ok is false for an unknown letter or an empty slot.
func (c Choices) Text(l Letter) (string, bool) {
	idx := l.Index()
	if idx < 0 || c[idx] == NoChoiceText {
		return NoChoiceText, false
	}
	return c[idx], true
}

type ExamSet struct {
	ID               uint    `json:"id" gorm:"primaryKey"`
	Title            string  `json:"title" gorm:"not null;size:200"`
	Description      *string `json:"description" gorm:"type:text"`
	TimeLimitMinutes int     `json:"time_limit_minutes" gorm:"not null;default:120"`

	// Per-part minutes; parts missing here use StandardPartMinutes.
	PartMinutes datatypes.JSONType[map[Part]int] `json:"part_minutes" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:ExamSetID"`
	Passages  []Passage  `json:"passages,omitempty" gorm:"foreignKey:ExamSetID"`
}

func (ExamSet) TableName() string {
	return "exam_sets"
}

// MinutesForPart returns the allotment for p, falling back to the standard table.
func (e *ExamSet) MinutesForPart(p Part) int {
	if minutes, ok := e.PartMinutes.Data()[p]; ok && minutes > 0 {
		return minutes
	}
	return StandardPartMinutes[p]
}

type Passage struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	ExamSetID uint `json:"exam_set_id" gorm:"not null;index"`
	Part      Part `json:"part" gorm:"not null"`

	Content  string  `json:"content" gorm:"type:text"`
	ImageURL *string `json:"image_url" gorm:"size:500"`
	AudioURL *string `json:"audio_url" gorm:"size:500"`

	// First question number shown for the group; drives group ordering when set.
	StartQuestionNumber *int           `json:"start_question_number"`
	Metadata            datatypes.JSON `json:"metadata" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Passage) TableName() string {
	return "passages"
}

type Question struct {
	ID         uint  `json:"id" gorm:"primaryKey"`
	ExamSetID  uint  `json:"exam_set_id" gorm:"not null;index"`
	Part       Part  `json:"part" gorm:"not null;index"`
	PassageID  *uint `json:"passage_id" gorm:"index"`
	OrderIndex int   `json:"order_index" gorm:"not null;default:0"`
	BlankIndex *int  `json:"blank_index"`

	Text          string                      `json:"text" gorm:"type:text"`
	ImageURL      *string                     `json:"image_url" gorm:"size:500"`
	AudioURL      *string                     `json:"audio_url" gorm:"size:500"`
	Choices       datatypes.JSONType[Choices] `json:"choices" gorm:"type:jsonb"`
	CorrectChoice Letter                      `json:"correct_choice,omitempty" gorm:"size:1;not null"`
	Explanation   *string                     `json:"explanation,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}

// IsCorrect compares chosen against the answer key; nil is never correct.
func (q *Question) IsCorrect(chosen *Letter) bool {
	return chosen != nil && *chosen == q.CorrectChoice
}
