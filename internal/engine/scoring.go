package engine

import (
	"math"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

type ScoredAnswer struct {
	QuestionID       uint           `json:"question_id"`
	Position         int            `json:"position"`
	Chosen           *models.Letter `json:"chosen"`
	Correct          models.Letter  `json:"correct"`
	IsCorrect        bool           `json:"is_correct"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
}

type Result struct {
	Answers          []ScoredAnswer `json:"answers"`
	TotalQuestions   int            `json:"total_questions"`
	CorrectAnswers   int            `json:"correct_answers"`
	AnsweredCount    int            `json:"answered_count"`
	Score            int            `json:"score"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
}

// Score grades every served question against entries. Unanswered questions
// count as incorrect. The result depends only on its inputs.
func Score(set *QuestionSet, entries []models.AnswerEntry, timeSpentSeconds int) (*Result, error) {
	if set == nil || set.Len() == 0 {
		return nil, ErrNoQuestionsToScore
	}

	byQuestion := make(map[uint]models.AnswerEntry, len(entries))
	for _, e := range entries {
		byQuestion[e.QuestionID] = e
	}

	res := &Result{
		Answers:          make([]ScoredAnswer, 0, set.Len()),
		TotalQuestions:   set.Len(),
		TimeSpentSeconds: timeSpentSeconds,
	}
	for i, item := range set.items {
		q := item.Question
		e := byQuestion[q.ID]
		scored := ScoredAnswer{
			QuestionID:       q.ID,
			Position:         i,
			Correct:          q.CorrectChoice,
			IsCorrect:        q.IsCorrect(e.ChosenLetter),
			TimeSpentSeconds: e.TimeSpentSeconds,
		}
		if e.ChosenLetter != nil {
			letter := *e.ChosenLetter
			scored.Chosen = &letter
			res.AnsweredCount++
		}
		if scored.IsCorrect {
			res.CorrectAnswers++
		}
		res.Answers = append(res.Answers, scored)
	}
	res.Score = Percentage(res.CorrectAnswers, res.TotalQuestions)
	return res, nil
}

// Percentage is round(100 * correct / total), halves rounded away from zero.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}
