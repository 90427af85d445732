package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/datatypes"
)

const defaultPageSize = 20

type examSetService struct {
	repo      repositories.Repository
	assembler AssemblerService
	logger    *slog.Logger
	validator *validator.Validator
}

func NewExamSetService(repo repositories.Repository, assembler AssemblerService, logger *slog.Logger, validator *validator.Validator) ExamSetService {
	return &examSetService{
		repo:      repo,
		assembler: assembler,
		logger:    logger,
		validator: validator,
	}
}

func (s *examSetService) List(ctx context.Context, q *ExamSetListQuery) (*ExamSetPage, error) {
	if err := s.validator.Validate(q); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultPageSize
	}

	sets, total, err := s.repo.ExamSet().List(ctx, nil, repositories.ExamSetFilters{
		Search:    q.Search,
		Limit:     limit,
		Offset:    q.Offset,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list exam sets: %w", err)
	}

	page := &ExamSetPage{
		Items:  make([]ExamSetSummary, 0, len(sets)),
		Total:  total,
		Limit:  limit,
		Offset: q.Offset,
	}
	for _, set := range sets {
		summary, err := s.summarize(ctx, set)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *summary)
	}
	return page, nil
}

func (s *examSetService) Get(ctx context.Context, examSetID uint) (*ExamSetSummary, error) {
	set, err := s.assembler.LoadExamSet(ctx, examSetID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, set)
}

// Update rewrites metadata only. Live sessions keep the allotment they
// started with.
func (s *examSetService) Update(ctx context.Context, examSetID uint, req *UpdateExamSetRequest) (*ExamSetSummary, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, ValidationErrors{{Field: "title", Message: "must not be blank", Rule: "required"}}
	}

	set, err := s.assembler.LoadExamSet(ctx, examSetID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		set.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		set.Description = req.Description
	}
	if req.TimeLimitMinutes != nil {
		set.TimeLimitMinutes = *req.TimeLimitMinutes
	}
	if req.PartMinutes != nil {
		set.PartMinutes = datatypes.NewJSONType(req.PartMinutes)
	}

	if err := s.repo.ExamSet().Update(ctx, nil, set); err != nil {
		return nil, fmt.Errorf("failed to update exam set: %w", err)
	}

	s.logger.Info("Exam set updated",
		"exam_set_id", set.ID,
		"time_limit_minutes", set.TimeLimitMinutes)

	return s.summarize(ctx, set)
}

func (s *examSetService) summarize(ctx context.Context, set *models.ExamSet) (*ExamSetSummary, error) {
	count, err := s.repo.Question().CountByExamSet(ctx, nil, set.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}
	parts, err := s.assembler.AvailableParts(ctx, set.ID)
	if err != nil {
		return nil, err
	}

	partMinutes := make(map[models.Part]int, len(parts))
	for _, p := range parts {
		partMinutes[p] = set.MinutesForPart(p)
	}

	return &ExamSetSummary{
		ID:               set.ID,
		Title:            set.Title,
		Description:      set.Description,
		TimeLimitMinutes: set.TimeLimitMinutes,
		PartMinutes:      partMinutes,
		Parts:            parts,
		QuestionCount:    int(count),
		CreatedAt:        set.CreatedAt,
	}, nil
}
