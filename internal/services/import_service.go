package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

const (
	QuestionsSheet = "Questions"
	PassagesSheet  = "Passages"
)

// Column headers, matched case-insensitively on the first row of each sheet.
var (
	passageColumns  = []string{"key", "part", "content", "image_url", "audio_url", "start_question_number"}
	questionColumns = []string{"part", "passage_key", "order", "blank_index", "text", "choice_a", "choice_b", "choice_c", "choice_d", "correct", "explanation", "image_url", "audio_url"}
)

type importService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewImportService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) ImportService {
	return &importService{
		repo:      repo,
		logger:    logger,
		validator: validator,
	}
}

type sheetRow struct {
	number int
	cells  map[string]string
}

func (r sheetRow) get(column string) string {
	return strings.TrimSpace(r.cells[column])
}

func (r sheetRow) optional(column string) *string {
	if v := r.get(column); v != "" {
		return &v
	}
	return nil
}

// ImportWorkbook creates a new exam set from an .xlsx workbook with a
// Questions sheet and an optional Passages sheet. Every row is checked
// before anything is written; the whole set is stored in one transaction.
func (s *importService) ImportWorkbook(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportReport, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return nil, ValidationErrors{{Field: "title", Message: "is required", Rule: "required"}}
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to close workbook", "error", err)
		}
	}()

	sheets := make(map[string]string)
	for _, name := range f.GetSheetList() {
		sheets[strings.ToLower(name)] = name
	}
	questionSheet, ok := sheets[strings.ToLower(QuestionsSheet)]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q sheet", ErrInvalidWorkbook, QuestionsSheet)
	}

	var errs ValidationErrors

	var passageRows []sheetRow
	if name, ok := sheets[strings.ToLower(PassagesSheet)]; ok {
		passageRows, err = readSheet(f, name, passageColumns, []string{"key", "part"})
		if err != nil {
			return nil, err
		}
	}
	passages, passageKeys, perrs := parsePassages(passageRows)
	errs = append(errs, perrs...)

	questionRows, err := readSheet(f, questionSheet, questionColumns, []string{"part", "correct"})
	if err != nil {
		return nil, err
	}
	questions, questionKeys, qerrs := parseQuestions(questionRows, passages, passageKeys)
	errs = append(errs, qerrs...)

	if len(questions) == 0 && len(qerrs) == 0 {
		errs = append(errs, validator.ValidationError{Field: QuestionsSheet, Message: "contains no questions", Rule: "required"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	examSet := &models.ExamSet{
		Title:            strings.TrimSpace(opts.Title),
		Description:      opts.Description,
		TimeLimitMinutes: opts.TimeLimitMinutes,
		PartMinutes:      datatypes.NewJSONType(opts.PartMinutes),
	}
	if examSet.TimeLimitMinutes <= 0 {
		examSet.TimeLimitMinutes = defaultTimeLimit(questions, opts.PartMinutes)
	}

	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		if err := tx.ExamSet().Create(ctx, nil, examSet); err != nil {
			return fmt.Errorf("failed to create exam set: %w", err)
		}

		for _, p := range passages {
			p.ExamSetID = examSet.ID
		}
		if len(passages) > 0 {
			if err := tx.Passage().CreateBatch(ctx, nil, passages); err != nil {
				return fmt.Errorf("failed to create passages: %w", err)
			}
		}

		ids := make(map[string]uint, len(passages))
		for key, idx := range passageKeys {
			ids[key] = passages[idx].ID
		}
		for i, q := range questions {
			q.ExamSetID = examSet.ID
			if key := questionKeys[i]; key != "" {
				id := ids[key]
				q.PassageID = &id
			}
		}
		if err := tx.Question().CreateBatch(ctx, nil, questions); err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &ImportReport{
		ExamSetID: examSet.ID,
		Title:     examSet.Title,
		Passages:  len(passages),
		Questions: len(questions),
		Parts:     partsOf(questions),
	}

	s.logger.Info("Exam set imported",
		"exam_set_id", report.ExamSetID,
		"title", report.Title,
		"questions", report.Questions,
		"passages", report.Passages)

	return report, nil
}

// readSheet returns the data rows of a sheet keyed by lower-cased header.
// Unknown columns and fully blank rows are skipped.
func readSheet(f *excelize.File, sheet string, known, required []string) ([]sheetRow, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrInvalidWorkbook, sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	isKnown := make(map[string]bool, len(known))
	for _, col := range known {
		isKnown[col] = true
	}
	header := make([]string, len(rows[0]))
	present := make(map[string]bool)
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		if isKnown[name] {
			header[i] = name
			present[name] = true
		}
	}
	for _, col := range required {
		if !present[col] {
			return nil, fmt.Errorf("%w: sheet %q has no %q column", ErrInvalidWorkbook, sheet, col)
		}
	}

	var out []sheetRow
	for i, cells := range rows[1:] {
		row := sheetRow{number: i + 2, cells: make(map[string]string, len(cells))}
		blank := true
		for j, v := range cells {
			if j >= len(header) || header[j] == "" {
				continue
			}
			row.cells[header[j]] = v
			if strings.TrimSpace(v) != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out, nil
}

func parsePassages(rows []sheetRow) ([]*models.Passage, map[string]int, ValidationErrors) {
	var errs ValidationErrors
	passages := make([]*models.Passage, 0, len(rows))
	keys := make(map[string]int, len(rows))

	for _, row := range rows {
		field := func(col string) string { return fmt.Sprintf("%s!%d.%s", PassagesSheet, row.number, col) }

		key := row.get("key")
		if key == "" {
			errs = append(errs, validator.ValidationError{Field: field("key"), Message: "is required", Rule: "required"})
			continue
		}
		if _, dup := keys[key]; dup {
			errs = append(errs, validator.ValidationError{Field: field("key"), Message: "is used by another passage", Value: key, Rule: "unique"})
			continue
		}

		part, err := parsePart(row.get("part"))
		if err != nil {
			errs = append(errs, validator.ValidationError{Field: field("part"), Message: err.Error(), Value: row.get("part"), Rule: "exam_part"})
			continue
		}

		p := &models.Passage{
			Part:     part,
			Content:  row.get("content"),
			ImageURL: row.optional("image_url"),
			AudioURL: row.optional("audio_url"),
		}
		if v := row.get("start_question_number"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, validator.ValidationError{Field: field("start_question_number"), Message: "must be a positive integer", Value: v, Rule: "min"})
				continue
			}
			p.StartQuestionNumber = &n
		}

		keys[key] = len(passages)
		passages = append(passages, p)
	}
	return passages, keys, errs
}

// parseQuestions returns the questions and, for each, the passage key it
// belongs to ("" when standalone).
func parseQuestions(rows []sheetRow, passages []*models.Passage, passageKeys map[string]int) ([]*models.Question, []string, ValidationErrors) {
	var errs ValidationErrors
	questions := make([]*models.Question, 0, len(rows))
	keys := make([]string, 0, len(rows))
	nextOrder := make(map[models.Part]int)

	for _, row := range rows {
		field := func(col string) string { return fmt.Sprintf("%s!%d.%s", QuestionsSheet, row.number, col) }
		rowErrs := len(errs)

		part, err := parsePart(row.get("part"))
		if err != nil {
			errs = append(errs, validator.ValidationError{Field: field("part"), Message: err.Error(), Value: row.get("part"), Rule: "exam_part"})
			continue
		}

		correct, err := models.ParseLetter(row.get("correct"))
		switch {
		case err != nil:
			errs = append(errs, validator.ValidationError{Field: field("correct"), Message: "must be one of A, B, C, D", Value: row.get("correct"), Rule: "answer_letter"})
		case !part.AllowsLetter(correct):
			errs = append(errs, validator.ValidationError{Field: field("correct"), Message: fmt.Sprintf("letter %s is not available in part %d", correct, part), Value: correct, Rule: "part_letter"})
		}

		key := row.get("passage_key")
		if key != "" {
			idx, ok := passageKeys[key]
			switch {
			case !ok:
				errs = append(errs, validator.ValidationError{Field: field("passage_key"), Message: "refers to an unknown passage", Value: key, Rule: "exists"})
			case passages[idx].Part != part:
				errs = append(errs, validator.ValidationError{Field: field("passage_key"), Message: fmt.Sprintf("passage belongs to part %d", passages[idx].Part), Value: key, Rule: "same_part"})
			}
		}

		order := nextOrder[part] + 1
		if v := row.get("order"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, validator.ValidationError{Field: field("order"), Message: "must be an integer", Value: v, Rule: "numeric"})
			}
			order = n
		}

		var blank *int
		if v := row.get("blank_index"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, validator.ValidationError{Field: field("blank_index"), Message: "must be an integer", Value: v, Rule: "numeric"})
			}
			blank = &n
		}

		if len(errs) > rowErrs {
			continue
		}
		if order > nextOrder[part] {
			nextOrder[part] = order
		}

		var choices models.Choices
		for i, col := range []string{"choice_a", "choice_b", "choice_c", "choice_d"} {
			choices[i] = row.get(col)
		}

		questions = append(questions, &models.Question{
			Part:          part,
			OrderIndex:    order,
			BlankIndex:    blank,
			Text:          row.get("text"),
			ImageURL:      row.optional("image_url"),
			AudioURL:      row.optional("audio_url"),
			Choices:       datatypes.NewJSONType(choices),
			CorrectChoice: correct,
			Explanation:   row.optional("explanation"),
		})
		keys = append(keys, key)
	}
	return questions, keys, errs
}

func parsePart(v string) (models.Part, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || !models.Part(n).Valid() {
		return 0, fmt.Errorf("must be a part number from 1 to 7")
	}
	return models.Part(n), nil
}

// defaultTimeLimit sums the allotments of the parts present in the workbook.
func defaultTimeLimit(questions []*models.Question, partMinutes map[models.Part]int) int {
	set := models.ExamSet{PartMinutes: datatypes.NewJSONType(partMinutes)}
	total := 0
	for _, p := range partsOf(questions) {
		total += set.MinutesForPart(p)
	}
	return total
}

func partsOf(questions []*models.Question) []models.Part {
	seen := make(map[models.Part]bool)
	var parts []models.Part
	for _, q := range questions {
		if !seen[q.Part] {
			seen[q.Part] = true
			parts = append(parts, q.Part)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts
}
