package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

const devHeader = "X-User-ID"

type rejectingParser struct{}

func (rejectingParser) ParseJwtToken(string) (*casdoorsdk.Claims, error) {
	return nil, errors.New("signature is invalid")
}

// fakeSessionService implements only what a test sets; other calls panic
// through the nil embedded interface.
type fakeSessionService struct {
	services.ExamSessionService
	start     func(req *services.StartSessionRequest, userID string) (*services.SessionView, error)
	submit    func(id uint, userID string) (*services.SessionResult, error)
	getResult func(id uint, userID string) (*services.SessionResult, error)
	history   func(userID string, q *services.SessionHistoryQuery) (*services.SessionPage, error)
	live      int
}

func (f *fakeSessionService) Start(_ context.Context, req *services.StartSessionRequest, userID string) (*services.SessionView, error) {
	return f.start(req, userID)
}

func (f *fakeSessionService) Submit(_ context.Context, id uint, userID string) (*services.SessionResult, error) {
	return f.submit(id, userID)
}

func (f *fakeSessionService) GetResult(_ context.Context, id uint, userID string) (*services.SessionResult, error) {
	return f.getResult(id, userID)
}

func (f *fakeSessionService) History(_ context.Context, userID string, q *services.SessionHistoryQuery) (*services.SessionPage, error) {
	return f.history(userID, q)
}

func (f *fakeSessionService) LiveSessions() int { return f.live }

type fakeExamSets struct {
	listQuery services.ExamSetListQuery
	updates   map[uint]services.UpdateExamSetRequest
}

func (f *fakeExamSets) List(_ context.Context, q *services.ExamSetListQuery) (*services.ExamSetPage, error) {
	f.listQuery = *q
	return &services.ExamSetPage{Items: []services.ExamSetSummary{{ID: 1, Title: "Mock test 1"}}, Total: 1, Limit: q.Limit}, nil
}

func (f *fakeExamSets) Get(_ context.Context, id uint) (*services.ExamSetSummary, error) {
	if id != 1 {
		return nil, services.ErrExamSetNotFound
	}
	return &services.ExamSetSummary{ID: 1, Title: "Mock test 1", QuestionCount: 200}, nil
}

func (f *fakeExamSets) Update(_ context.Context, id uint, req *services.UpdateExamSetRequest) (*services.ExamSetSummary, error) {
	if f.updates == nil {
		f.updates = make(map[uint]services.UpdateExamSetRequest)
	}
	f.updates[id] = *req
	return &services.ExamSetSummary{ID: id, Title: *req.Title}, nil
}

type fakeAssembler struct {
	services.AssemblerService
	parts []models.Part
}

func (f *fakeAssembler) Preview(_ context.Context, examSetID uint, parts []models.Part) (*services.QuestionSetView, error) {
	f.parts = parts
	return &services.QuestionSetView{ExamSetID: examSetID, Parts: parts}, nil
}

type fakeImporter struct {
	opts  services.ImportOptions
	calls int
}

func (f *fakeImporter) ImportWorkbook(_ context.Context, r io.Reader, opts services.ImportOptions) (*services.ImportReport, error) {
	f.calls++
	f.opts = opts
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return &services.ImportReport{ExamSetID: 9, Title: opts.Title}, nil
}

type fakeManager struct {
	session   services.ExamSessionService
	examSets  services.ExamSetService
	assembler services.AssemblerService
	importer  services.ImportService
}

func (m fakeManager) Assembler() services.AssemblerService     { return m.assembler }
func (m fakeManager) ExamSession() services.ExamSessionService { return m.session }
func (m fakeManager) ExamSets() services.ExamSetService        { return m.examSets }
func (m fakeManager) Import() services.ImportService           { return m.importer }
func (m fakeManager) Initialize(context.Context) error         { return nil }
func (m fakeManager) Shutdown(context.Context) error           { return nil }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router    *gin.Engine
	session   *fakeSessionService
	examSets  *fakeExamSets
	assembler *fakeAssembler
	importer  *fakeImporter
}

func newTestServer(t *testing.T, checks map[string]HealthChecker) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := &testServer{
		router:    gin.New(),
		session:   &fakeSessionService{},
		examSets:  &fakeExamSets{},
		assembler: &fakeAssembler{},
		importer:  &fakeImporter{},
	}
	auth := NewAuthMiddlewareWithParser(rejectingParser{}, config.CasdoorConfig{DevUserHeader: devHeader})
	hm := NewHandlerManager(fakeManager{
		session:   ts.session,
		examSets:  ts.examSets,
		assembler: ts.assembler,
		importer:  ts.importer,
	}, logger, auth, checks)

	SetupMiddleware(ts.router, logger, []string{"https://exam.example.com"})
	hm.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(req *http.Request, user string, role models.UserRole) *httptest.ResponseRecorder {
	if user != "" {
		req.Header.Set(devHeader, user)
	}
	if role != "" {
		req.Header.Set(devHeader+"-Role", string(role))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.session.getResult = func(id uint, userID string) (*services.SessionResult, error) {
		return &services.SessionResult{SessionID: id}, nil
	}

	tests := []struct {
		name   string
		auth   string
		user   string
		status int
	}{
		{name: "no credentials", status: http.StatusUnauthorized},
		{name: "malformed header", auth: "Token abc", status: http.StatusUnauthorized},
		{name: "rejected token", auth: "Bearer abc", status: http.StatusUnauthorized},
		{name: "dev header", user: "student-1", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/4/result", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := ts.do(req, tt.user, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestStartSession(t *testing.T) {
	ts := newTestServer(t, nil)

	var gotUser string
	var gotReq services.StartSessionRequest
	ts.session.start = func(req *services.StartSessionRequest, userID string) (*services.SessionView, error) {
		gotUser, gotReq = userID, *req
		switch req.OnExisting {
		case "resume":
			return &services.SessionView{Resumed: true, CurrentIndex: 3}, nil
		case "":
			return nil, &services.DuplicateActiveSessionError{SessionID: 12, ExamSetID: req.ExamSetID}
		default:
			return &services.SessionView{CurrentIndex: 0}, nil
		}
	}

	tests := []struct {
		name       string
		onExisting string
		status     int
	}{
		{name: "fresh start", onExisting: "restart", status: http.StatusCreated},
		{name: "resumed", onExisting: "resume", status: http.StatusOK},
		{name: "duplicate", onExisting: "", status: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]interface{}{"exam_set_id": 7, "parts": []int{1, 2}, "on_existing": tt.onExisting}
			w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions", body), "student-1", "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if gotUser != "student-1" || gotReq.ExamSetID != 7 || len(gotReq.Parts) != 2 {
				t.Fatalf("service got user %q req %+v", gotUser, gotReq)
			}
		})
	}

	t.Run("duplicate details", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{"exam_set_id": 7}), "student-1", "")
		var resp struct {
			Details struct {
				SessionID  uint     `json:"session_id"`
				OnExisting []string `json:"on_existing"`
			} `json:"details"`
		}
		decode(t, w, &resp)
		if resp.Details.SessionID != 12 || len(resp.Details.OnExisting) != 2 {
			t.Fatalf("details = %+v", resp.Details)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		if w := ts.do(req, "student-1", ""); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: services.ValidationErrors{{Field: "letter", Message: "invalid", Rule: "answer_letter"}}, status: http.StatusBadRequest},
		{err: services.NewPermissionError("u", 4, "session", "read", "not owner"), status: http.StatusForbidden},
		{err: services.NewBusinessRuleError("available_part", "part not in set", nil), status: http.StatusUnprocessableEntity},
		{err: services.ErrSessionNotFound, status: http.StatusNotFound},
		{err: fmt.Errorf("lookup: %w", services.ErrExamSetNotFound), status: http.StatusNotFound},
		{err: engine.ErrAlreadySubmitted, status: http.StatusConflict},
		{err: services.ErrSessionNotCompleted, status: http.StatusConflict},
		{err: services.ErrSubmissionPending, status: http.StatusConflict},
		{err: engine.ErrPauseUnsupported, status: http.StatusConflict},
		{err: engine.ErrQuestionIndexOutOfRange, status: http.StatusBadRequest},
		{err: engine.ErrNoQuestionsToScore, status: http.StatusUnprocessableEntity},
		{err: engine.ErrServedQuestionMissing, status: http.StatusGone},
		{err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}

	ts := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts.session.getResult = func(uint, string) (*services.SessionResult, error) {
				return nil, tt.err
			}
			w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/4/result", nil), "student-1", "")
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestInvalidSessionID(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/sessions/abc/result", "/api/v1/sessions/0/result"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, path, nil), "student-1", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestSubmitSession_AttemptPersistenceWarning(t *testing.T) {
	ts := newTestServer(t, nil)
	result := &services.SessionResult{SessionID: 4, Score: 75, Status: models.SessionCompleted}
	ts.session.submit = func(id uint, _ string) (*services.SessionResult, error) {
		return result, &services.AttemptPersistenceError{SessionID: id, Result: result, Err: errors.New("deadlock")}
	}

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/4/submit", nil), "student-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Message string                 `json:"message"`
		Data    services.SessionResult `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Message != engine.ErrAttemptPersistenceFailed.Error() {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Data.Score != 75 {
		t.Errorf("score = %d, want 75", resp.Data.Score)
	}
}

func TestPreviewQuestions(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets/3/questions?parts=1,%202", nil), "student-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if len(ts.assembler.parts) != 2 || ts.assembler.parts[0] != 1 || ts.assembler.parts[1] != 2 {
		t.Fatalf("parts = %v, want [1 2]", ts.assembler.parts)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets/3/questions?parts=1,9", nil), "student-1", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("part 9: status = %d, want 400", w.Code)
	}
}

func TestExamSetCatalogue(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets?search=mock&limit=5&sort_by=title&sort_order=asc", nil), "student-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d (%s)", w.Code, w.Body.String())
	}
	q := ts.examSets.listQuery
	if q.Search != "mock" || q.Limit != 5 || q.SortBy != "title" || q.SortOrder != "asc" {
		t.Errorf("list query = %+v", q)
	}

	if w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets?limit=many", nil), "student-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric limit: status = %d, want 400", w.Code)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets/1", nil), "student-1", "")
	var summary services.ExamSetSummary
	decode(t, w, &summary)
	if w.Code != http.StatusOK || summary.QuestionCount != 200 {
		t.Errorf("get status = %d summary = %+v", w.Code, summary)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/exam-sets/2", nil), "student-1", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing set: status = %d, want 404", w.Code)
	}
}

func TestUpdateExamSet(t *testing.T) {
	body := map[string]interface{}{
		"title":        "Renamed",
		"part_minutes": map[string]int{"1": 10, "7": 60},
	}

	t.Run("students are rejected", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(jsonRequest(t, http.MethodPatch, "/api/v1/exam-sets/1", body), "student-1", models.RoleStudent)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if len(ts.examSets.updates) != 0 {
			t.Fatalf("update reached the service")
		}
	})

	t.Run("teacher update", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(jsonRequest(t, http.MethodPatch, "/api/v1/exam-sets/1", body), "teacher-1", models.RoleTeacher)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
		}
		got := ts.examSets.updates[1]
		if got.Title == nil || *got.Title != "Renamed" || got.PartMinutes[models.PartPhotographs] != 10 || got.PartMinutes[models.PartReading] != 60 {
			t.Fatalf("update = %+v", got)
		}
	})
}

func TestListSessions(t *testing.T) {
	ts := newTestServer(t, nil)

	var gotUser string
	var gotQuery services.SessionHistoryQuery
	ts.session.history = func(userID string, q *services.SessionHistoryQuery) (*services.SessionPage, error) {
		gotUser, gotQuery = userID, *q
		return &services.SessionPage{Items: []services.SessionSummary{{ID: 4, Status: models.SessionCompleted}}, Total: 1}, nil
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions?exam_set_id=7&status=completed&is_retry=true", nil), "student-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if gotUser != "student-1" || gotQuery.ExamSetID != 7 || gotQuery.Status != "completed" || gotQuery.IsRetry == nil || !*gotQuery.IsRetry {
		t.Errorf("service got user %q query %+v", gotUser, gotQuery)
	}
	var page services.SessionPage
	decode(t, w, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != 4 {
		t.Errorf("page = %+v", page)
	}
}

func workbookUpload(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("PK"))
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exam-sets/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportWorkbook(t *testing.T) {
	fields := map[string]string{"title": "Practice 1", "description": "first set", "time_limit_minutes": "120"}

	t.Run("students are rejected", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(workbookUpload(t, "set.xlsx", fields), "student-1", models.RoleStudent)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if ts.importer.calls != 0 {
			t.Fatalf("importer called %d times", ts.importer.calls)
		}
	})

	t.Run("teacher import", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(workbookUpload(t, "set.xlsx", fields), "teacher-1", models.RoleTeacher)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
		}
		opts := ts.importer.opts
		if opts.Title != "Practice 1" || opts.TimeLimitMinutes != 120 || opts.Description == nil || *opts.Description != "first set" {
			t.Fatalf("opts = %+v", opts)
		}
	})

	t.Run("wrong extension", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(workbookUpload(t, "set.csv", fields), "admin-1", models.RoleAdmin)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("bad time limit", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(workbookUpload(t, "set.xlsx", map[string]string{"title": "x", "time_limit_minutes": "-5"}), "teacher-1", models.RoleTeacher)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name   string
		checks map[string]HealthChecker
		status int
		state  string
	}{
		{name: "healthy", checks: map[string]HealthChecker{"database": healthy}, status: http.StatusOK, state: "healthy"},
		{name: "degraded", checks: map[string]HealthChecker{"database": down}, status: http.StatusServiceUnavailable, state: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.checks)
			ts.session.live = 2

			w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil), "", "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var resp struct {
				Status       string `json:"status"`
				Service      string `json:"service"`
				LiveSessions int    `json:"live_sessions"`
			}
			decode(t, w, &resp)
			if resp.Status != tt.state || resp.Service != "exam-session-service" || resp.LiveSessions != 2 {
				t.Fatalf("health = %+v", resp)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "https://exam.example.com", want: "https://exam.example.com"},
		{origin: "https://evil.example.com", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
		req.Header.Set("Origin", tt.origin)
		w := ts.do(req, "", "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("%s: preflight status = %d, want 204", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: allow origin = %q, want %q", tt.origin, got, tt.want)
		}
		if w.Header().Get(requestIDHeader) == "" {
			t.Errorf("%s: missing request id", tt.origin)
		}
	}
}
