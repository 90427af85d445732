package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/xuri/excelize/v2"
)

type sheetData struct {
	name string
	rows [][]string
}

func buildWorkbook(t *testing.T, sheets ...sheetData) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range sheet.rows {
			values := make([]interface{}, len(row))
			for c, v := range row {
				values[c] = v
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetSheetRow(sheet.name, cell, &values); err != nil {
				t.Fatalf("write row: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf
}

var questionHeader = []string{"Part", "Passage_Key", "Order", "Text", "Choice_A", "Choice_B", "Choice_C", "Choice_D", "Correct", "Explanation"}

func TestImportWorkbook(t *testing.T) {
	store := newMemStore()
	repo := newMockRepository(store)
	svc := NewImportService(repo, testLogger(), validator.New())

	wb := buildWorkbook(t,
		sheetData{name: "Questions", rows: [][]string{
			questionHeader,
			{"1", "", "", "", "", "", "", "", "B", "The man is reading."},
			{"1", "", "", "", "", "", "", "", "c", ""},
			{"2", "", "", "", "", "", "", "", "A", ""},
			{"", "", "", "", "", "", "", "", "", ""},
			{"7", "p1", "2", "What is the memo about?", "Hiring", "Parking", "Budget", "Travel", "D", ""},
			{"7", "p1", "1", "Who wrote the memo?", "A manager", "A client", "A driver", "A chef", "A", ""},
		}},
		sheetData{name: "passages", rows: [][]string{
			{"key", "part", "content", "start_question_number"},
			{"p1", "7", "Memo to all staff", "147"},
		}},
	)

	report, err := svc.ImportWorkbook(context.Background(), wb, ImportOptions{Title: "  Practice set  "})
	if err != nil {
		t.Fatalf("ImportWorkbook: %v", err)
	}

	if report.Title != "Practice set" || report.Questions != 5 || report.Passages != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	wantParts := []models.Part{models.PartPhotographs, models.PartQuestionResponse, models.PartReading}
	if fmt.Sprint(report.Parts) != fmt.Sprint(wantParts) {
		t.Errorf("parts = %v, want %v", report.Parts, wantParts)
	}

	examSet := store.examSets[report.ExamSetID]
	if want := 6 + 8 + 55; examSet.TimeLimitMinutes != want {
		t.Errorf("time limit = %d, want %d", examSet.TimeLimitMinutes, want)
	}

	if len(store.passages) != 1 {
		t.Fatalf("stored %d passages, want 1", len(store.passages))
	}
	passage := store.passages[0]
	if passage.StartQuestionNumber == nil || *passage.StartQuestionNumber != 147 {
		t.Errorf("start question number not parsed: %v", passage.StartQuestionNumber)
	}

	var part1Orders []int
	for _, q := range store.questions {
		if q.ExamSetID != report.ExamSetID {
			t.Errorf("question %d not linked to exam set", q.ID)
		}
		switch q.Part {
		case models.PartPhotographs:
			part1Orders = append(part1Orders, q.OrderIndex)
		case models.PartReading:
			if q.PassageID == nil || *q.PassageID != passage.ID {
				t.Errorf("reading question %d not linked to passage", q.ID)
			}
			if text, ok := q.Choices.Data().Text(models.LetterD); !ok || text == "" {
				t.Errorf("choices not stored: %v", q.Choices.Data())
			}
		}
	}
	if fmt.Sprint(part1Orders) != "[1 2]" {
		t.Errorf("part 1 orders = %v, want [1 2]", part1Orders)
	}

	// The imported set is immediately servable.
	assembler := NewAssemblerService(repo, testLogger())
	set, err := assembler.Assemble(context.Background(), report.ExamSetID, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if set.Len() != 5 {
		t.Errorf("assembled %d questions, want 5", set.Len())
	}
}

func TestImportWorkbook_RowErrors(t *testing.T) {
	store := newMemStore()
	svc := NewImportService(newMockRepository(store), testLogger(), validator.New())

	wb := buildWorkbook(t,
		sheetData{name: "Questions", rows: [][]string{
			questionHeader,
			{"2", "", "", "", "", "", "", "", "D", ""},
			{"9", "", "", "", "", "", "", "", "A", ""},
			{"7", "missing", "", "", "", "", "", "", "A", ""},
			{"6", "p1", "", "", "", "", "", "", "B", ""},
			{"1", "", "x", "", "", "", "", "", "A", ""},
		}},
		sheetData{name: "Passages", rows: [][]string{
			{"key", "part"},
			{"p1", "7"},
			{"p1", "7"},
		}},
	)

	_, err := svc.ImportWorkbook(context.Background(), wb, ImportOptions{Title: "Broken"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	want := map[string]string{
		"Passages!3.key":          "unique",
		"Questions!2.correct":     "part_letter",
		"Questions!3.part":        "exam_part",
		"Questions!4.passage_key": "exists",
		"Questions!5.passage_key": "same_part",
		"Questions!6.order":       "numeric",
	}
	got := make(map[string]string, len(verrs))
	for _, e := range verrs {
		got[e.Field] = e.Rule
	}
	for field, rule := range want {
		if got[field] != rule {
			t.Errorf("%s: rule = %q, want %q", field, got[field], rule)
		}
	}
	if len(verrs) != len(want) {
		t.Errorf("got %d errors, want %d: %+v", len(verrs), len(want), verrs)
	}

	if len(store.examSets) != 0 || len(store.questions) != 0 {
		t.Error("nothing may be written when a row is invalid")
	}
}

func TestImportWorkbook_Rejects(t *testing.T) {
	svc := NewImportService(newMockRepository(newMemStore()), testLogger(), validator.New())
	ctx := context.Background()

	tests := []struct {
		name    string
		body    func(t *testing.T) *bytes.Buffer
		title   string
		wantErr error
		field   string
	}{
		{
			name:  "no title",
			body:  func(t *testing.T) *bytes.Buffer { return buildWorkbook(t, sheetData{name: "Questions"}) },
			field: "title",
		},
		{
			name:    "not a workbook",
			body:    func(*testing.T) *bytes.Buffer { return bytes.NewBufferString("part,correct\n1,A\n") },
			title:   "CSV",
			wantErr: ErrInvalidWorkbook,
		},
		{
			name: "no questions sheet",
			body: func(t *testing.T) *bytes.Buffer {
				return buildWorkbook(t, sheetData{name: "Passages", rows: [][]string{{"key", "part"}}})
			},
			title:   "Passages only",
			wantErr: ErrInvalidWorkbook,
		},
		{
			name: "missing correct column",
			body: func(t *testing.T) *bytes.Buffer {
				return buildWorkbook(t, sheetData{name: "Questions", rows: [][]string{{"part", "text"}, {"1", "hello"}}})
			},
			title:   "No key",
			wantErr: ErrInvalidWorkbook,
		},
		{
			name: "header only",
			body: func(t *testing.T) *bytes.Buffer {
				return buildWorkbook(t, sheetData{name: "QUESTIONS", rows: [][]string{questionHeader}})
			},
			title: "Empty",
			field: "Questions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportWorkbook(ctx, tt.body(t), ImportOptions{Title: tt.title})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) || !strings.EqualFold(verrs[0].Field, tt.field) {
				t.Errorf("expected validation error on %q, got %v", tt.field, err)
			}
		})
	}
}
