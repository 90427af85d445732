package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the PostgreSQL repositories.
type memStore struct {
	mu     sync.Mutex
	nextID uint

	examSets  map[uint]models.ExamSet
	questions []models.Question
	passages  []models.Passage
	sessions  map[uint]models.ExamSession
	attempts  map[uint][]models.Attempt

	failComplete     error
	failAttempts     error
	failSaveProgress error
}

func newMemStore() *memStore {
	return &memStore{
		examSets: make(map[uint]models.ExamSet),
		sessions: make(map[uint]models.ExamSession),
		attempts: make(map[uint][]models.Attempt),
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) setFailure(target *error, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*target = err
}

func (m *memStore) session(id uint) models.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// MockRepository implements repositories.Repository over a memStore.
type MockRepository struct {
	store *memStore
}

func newMockRepository(store *memStore) *MockRepository {
	return &MockRepository{store: store}
}

func (r *MockRepository) ExamSet() repositories.ExamSetRepository   { return mockExamSets{r.store} }
func (r *MockRepository) Question() repositories.QuestionRepository { return mockQuestions{r.store} }
func (r *MockRepository) Passage() repositories.PassageRepository   { return mockPassages{r.store} }
func (r *MockRepository) Session() repositories.SessionRepository   { return mockSessions{r.store} }
func (r *MockRepository) Attempt() repositories.AttemptRepository   { return mockAttempts{r.store} }
func (r *MockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}
func (r *MockRepository) Ping(ctx context.Context) error { return nil }
func (r *MockRepository) Close() error                   { return nil }

// ===== EXAM SETS =====

type mockExamSets struct{ m *memStore }

func (r mockExamSets) Create(_ context.Context, _ *gorm.DB, set *models.ExamSet) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	set.ID = r.m.id()
	r.m.examSets[set.ID] = *set
	return nil
}

func (r mockExamSets) GetByID(_ context.Context, _ *gorm.DB, id uint) (*models.ExamSet, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	set, ok := r.m.examSets[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &set, nil
}

func (r mockExamSets) Update(_ context.Context, _ *gorm.DB, set *models.ExamSet) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.examSets[set.ID] = *set
	return nil
}

func (r mockExamSets) List(_ context.Context, _ *gorm.DB, _ repositories.ExamSetFilters) ([]*models.ExamSet, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.ExamSet
	for _, s := range r.m.examSets {
		s := s
		out = append(out, &s)
	}
	return out, int64(len(out)), nil
}

// ===== CONTENT =====

type mockQuestions struct{ m *memStore }

func (r mockQuestions) CreateBatch(_ context.Context, _ *gorm.DB, questions []*models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, q := range questions {
		if q.ID == 0 {
			q.ID = r.m.id()
		}
		r.m.questions = append(r.m.questions, *q)
	}
	return nil
}

func (r mockQuestions) ListByExamSet(_ context.Context, _ *gorm.DB, examSetID uint) ([]models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Question
	for _, q := range r.m.questions {
		if q.ExamSetID == examSetID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r mockQuestions) CountByExamSet(ctx context.Context, tx *gorm.DB, examSetID uint) (int64, error) {
	qs, err := r.ListByExamSet(ctx, tx, examSetID)
	return int64(len(qs)), err
}

type mockPassages struct{ m *memStore }

func (r mockPassages) CreateBatch(_ context.Context, _ *gorm.DB, passages []*models.Passage) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range passages {
		if p.ID == 0 {
			p.ID = r.m.id()
		}
		r.m.passages = append(r.m.passages, *p)
	}
	return nil
}

func (r mockPassages) ListByExamSet(_ context.Context, _ *gorm.DB, examSetID uint) ([]models.Passage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Passage
	for _, p := range r.m.passages {
		if p.ExamSetID == examSetID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ===== SESSIONS =====

type mockSessions struct{ m *memStore }

func (r mockSessions) Create(_ context.Context, _ *gorm.DB, session *models.ExamSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if session.Status == models.SessionInProgress {
		for _, s := range r.m.sessions {
			if s.Status == models.SessionInProgress && s.UserID == session.UserID && s.ExamSetID == session.ExamSetID {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	session.ID = r.m.id()
	r.m.sessions[session.ID] = *session
	return nil
}

func (r mockSessions) GetByID(_ context.Context, _ *gorm.DB, id uint) (*models.ExamSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &s, nil
}

func (r mockSessions) List(_ context.Context, _ *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.ExamSession
	for _, s := range r.m.sessions {
		if filters.UserID != nil && s.UserID != *filters.UserID {
			continue
		}
		if filters.Status != nil && s.Status != *filters.Status {
			continue
		}
		if filters.ExamSetID != nil && s.ExamSetID != *filters.ExamSetID {
			continue
		}
		if filters.IsRetry != nil && s.IsRetry != *filters.IsRetry {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r mockSessions) GetActive(_ context.Context, _ *gorm.DB, userID string, examSetID uint) (*models.ExamSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.sessions {
		if s.Status == models.SessionInProgress && s.UserID == userID && s.ExamSetID == examSetID {
			return &s, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// update applies fn to a session that is still in the from status.
func (r mockSessions) update(id uint, from models.SessionStatus, fn func(*models.ExamSession)) error {
	s, ok := r.m.sessions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if s.Status != from {
		return repositories.ErrStatusConflict
	}
	fn(&s)
	r.m.sessions[id] = s
	return nil
}

func (r mockSessions) SaveProgress(_ context.Context, _ *gorm.DB, id uint, p repositories.SessionProgress) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failSaveProgress != nil {
		return r.m.failSaveProgress
	}
	return r.update(id, models.SessionInProgress, func(s *models.ExamSession) {
		s.CurrentQuestionIndex = p.CurrentQuestionIndex
		s.TimeRemainingSeconds = p.TimeRemainingSeconds
		s.AnsweredCount = p.AnsweredCount
		s.AnswersSnapshot = jsonAnswers(p.Answers)
		savedAt := p.SavedAt
		s.LastSavedAt = &savedAt
	})
}

func (r mockSessions) Complete(_ context.Context, _ *gorm.DB, id uint, res repositories.SessionResult) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failComplete != nil {
		return r.m.failComplete
	}
	return r.update(id, models.SessionInProgress, func(s *models.ExamSession) {
		completedAt := res.CompletedAt
		s.Status = models.SessionCompleted
		s.CompletedAt = &completedAt
		s.TimeRemainingSeconds = res.TimeRemainingSeconds
		s.TimeSpentSeconds = res.TimeSpentSeconds
		s.Score = res.Score
		s.TotalQuestions = res.TotalQuestions
		s.CorrectAnswers = res.CorrectAnswers
		s.AnsweredCount = res.AnsweredCount
		s.AnswersSnapshot = jsonAnswers(res.Answers)
		s.LastSavedAt = &completedAt
	})
}

func (r mockSessions) UpdateStatus(_ context.Context, _ *gorm.DB, id uint, from, to models.SessionStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.update(id, from, func(s *models.ExamSession) { s.Status = to })
}

func (r mockSessions) MarkAttemptsPersisted(_ context.Context, _ *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.update(id, models.SessionCompleted, func(s *models.ExamSession) { s.AttemptsPersisted = true })
}

func (r mockSessions) UpdateScore(_ context.Context, _ *gorm.DB, id uint, correct, score int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.update(id, models.SessionCompleted, func(s *models.ExamSession) {
		s.CorrectAnswers = correct
		s.Score = score
	})
}

// ===== ATTEMPTS =====

type mockAttempts struct{ m *memStore }

func (r mockAttempts) CreateBatch(_ context.Context, _ *gorm.DB, attempts []*models.Attempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failAttempts != nil {
		return r.m.failAttempts
	}
	for _, a := range attempts {
		exists := false
		for _, cur := range r.m.attempts[a.SessionID] {
			if cur.QuestionID == a.QuestionID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		a.ID = r.m.id()
		r.m.attempts[a.SessionID] = append(r.m.attempts[a.SessionID], *a)
	}
	return nil
}

func (r mockAttempts) ListBySession(_ context.Context, _ *gorm.DB, sessionID uint) ([]*models.Attempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Attempt
	for _, a := range r.m.attempts[sessionID] {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r mockAttempts) GetBySessionAndQuestion(_ context.Context, _ *gorm.DB, sessionID, questionID uint) (*models.Attempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.attempts[sessionID] {
		if a.QuestionID == questionID {
			return &a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r mockAttempts) Update(_ context.Context, _ *gorm.DB, attempt *models.Attempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.attempts[attempt.SessionID]
	for i := range list {
		if list[i].ID == attempt.ID {
			list[i] = *attempt
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r mockAttempts) CountBySession(_ context.Context, _ *gorm.DB, sessionID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.attempts[sessionID])), nil
}

func (r mockAttempts) CountCorrect(_ context.Context, _ *gorm.DB, sessionID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, a := range r.m.attempts[sessionID] {
		if a.IsCorrect {
			n++
		}
	}
	return n, nil
}

// ===== SNAPSHOT STORE =====

type mockSnapshotStore struct {
	mu     sync.Mutex
	snaps  map[uint]engine.Snapshot
	puts   int
	putErr error
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{snaps: make(map[uint]engine.Snapshot)}
}

func (s *mockSnapshotStore) Put(_ context.Context, snap *engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.snaps[snap.SessionID] = *snap
	return nil
}

func (s *mockSnapshotStore) Get(_ context.Context, sessionID uint) (*engine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, cache.ErrSnapshotNotFound
	}
	return &snap, nil
}

func (s *mockSnapshotStore) Delete(_ context.Context, sessionID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, sessionID)
	return nil
}

func (s *mockSnapshotStore) failPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *mockSnapshotStore) has(sessionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snaps[sessionID]
	return ok
}

func (s *mockSnapshotStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func jsonAnswers(entries []models.AnswerEntry) datatypes.JSONType[[]models.AnswerEntry] {
	return datatypes.NewJSONType(entries)
}

var errInjected = errors.New("injected failure")

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
