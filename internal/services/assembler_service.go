package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type assemblerService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewAssemblerService(repo repositories.Repository, logger *slog.Logger) AssemblerService {
	return &assemblerService{
		repo:   repo,
		logger: logger,
	}
}

func (s *assemblerService) LoadExamSet(ctx context.Context, examSetID uint) (*models.ExamSet, error) {
	set, err := s.repo.ExamSet().GetByID(ctx, nil, examSetID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamSetNotFound
		}
		return nil, fmt.Errorf("failed to load exam set: %w", err)
	}
	return set, nil
}

// Assemble builds the ordered question set for a part filter. An empty
// filter selects every part.
func (s *assemblerService) Assemble(ctx context.Context, examSetID uint, parts []models.Part) (*engine.QuestionSet, error) {
	questions, passages, err := s.loadContent(ctx, examSetID)
	if err != nil {
		return nil, err
	}

	set, err := engine.Assemble(questions, passages, parts)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Assembled question set",
		"exam_set_id", examSetID,
		"requested_parts", parts,
		"served_parts", set.Parts(),
		"questions", set.Len())

	return set, nil
}

// LoadServed rebuilds the frozen order of an existing session.
func (s *assemblerService) LoadServed(ctx context.Context, examSetID uint, servedIDs []uint) (*engine.QuestionSet, error) {
	questions, passages, err := s.loadContent(ctx, examSetID)
	if err != nil {
		return nil, err
	}

	set, err := engine.Replay(questions, passages, servedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to replay exam set %d: %w", examSetID, err)
	}
	return set, nil
}

func (s *assemblerService) AvailableParts(ctx context.Context, examSetID uint) ([]models.Part, error) {
	questions, err := s.repo.Question().ListByExamSet(ctx, nil, examSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	seen := make(map[models.Part]bool)
	var parts []models.Part
	for _, q := range questions {
		if !seen[q.Part] {
			seen[q.Part] = true
			parts = append(parts, q.Part)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts, nil
}

// AllottedSeconds sums the per-part allotments of the requested parts, or
// uses the flat exam limit when no filter is given. Passage widening does
// not add time.
func (s *assemblerService) AllottedSeconds(set *models.ExamSet, parts []models.Part, mode models.TimeMode) int {
	if mode == models.TimeModeUnlimited {
		return models.UnlimitedTime
	}
	if len(parts) == 0 {
		return set.TimeLimitMinutes * 60
	}

	seen := make(map[models.Part]bool, len(parts))
	minutes := 0
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		minutes += set.MinutesForPart(p)
	}
	return minutes * 60
}

func (s *assemblerService) Preview(ctx context.Context, examSetID uint, parts []models.Part) (*QuestionSetView, error) {
	examSet, err := s.LoadExamSet(ctx, examSetID)
	if err != nil {
		return nil, err
	}

	set, err := s.Assemble(ctx, examSetID, parts)
	if err != nil {
		return nil, err
	}

	questions, passages := questionViews(set)
	return &QuestionSetView{
		ExamSetID:           examSet.ID,
		Title:               examSet.Title,
		Parts:               set.Parts(),
		TimeAllottedSeconds: s.AllottedSeconds(examSet, parts, models.TimeModeStandard),
		Questions:           questions,
		Passages:            passages,
	}, nil
}

func (s *assemblerService) loadContent(ctx context.Context, examSetID uint) ([]models.Question, []models.Passage, error) {
	questions, err := s.repo.Question().ListByExamSet(ctx, nil, examSetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load questions: %w", err)
	}
	passages, err := s.repo.Passage().ListByExamSet(ctx, nil, examSetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load passages: %w", err)
	}
	return questions, passages, nil
}

// questionViews strips answer keys and lists each passage once, in order of
// first appearance.
func questionViews(set *engine.QuestionSet) ([]QuestionView, []PassageView) {
	items := set.Items()
	questions := make([]QuestionView, 0, len(items))
	var passages []PassageView
	seen := make(map[uint]bool)

	for _, item := range items {
		q := item.Question
		view := QuestionView{
			Number:     item.Number,
			ID:         q.ID,
			Part:       q.Part,
			PassageID:  q.PassageID,
			BlankIndex: q.BlankIndex,
			Text:       q.Text,
			ImageURL:   q.ImageURL,
			AudioURL:   q.AudioURL,
		}
		choices := q.Choices.Data()
		for _, letter := range q.Part.Letters() {
			text, _ := choices.Text(letter)
			view.Choices = append(view.Choices, ChoiceView{Letter: letter, Text: text})
		}
		questions = append(questions, view)

		if p := item.Passage; p != nil && !seen[p.ID] {
			seen[p.ID] = true
			passages = append(passages, PassageView{
				ID:                  p.ID,
				Part:                p.Part,
				Content:             p.Content,
				ImageURL:            p.ImageURL,
				AudioURL:            p.AudioURL,
				StartQuestionNumber: p.StartQuestionNumber,
			})
		}
	}
	return questions, passages
}
