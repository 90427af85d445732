package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestSnapshotStore_PutGetDelete(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSnapshotStore(client, time.Hour)
	ctx := context.Background()

	letter := models.LetterC
	snap := &engine.Snapshot{
		SessionID:         42,
		ExamSetID:         3,
		CurrentIndex:      5,
		Answers:           []engine.AnswerPair{{QuestionID: 100, Answer: &letter}, {QuestionID: 101}},
		TimeRemaining:     1234,
		ServedQuestionIDs: []uint{100, 101, 102},
		Timestamp:         time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
	}

	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("snapshot:42") {
		t.Fatal("expected key snapshot:42")
	}
	if ttl := mr.TTL("snapshot:42"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	got, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TimeRemaining != 1234 || got.CurrentIndex != 5 || len(got.Answers) != 2 {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if got.Answers[0].Answer == nil || *got.Answers[0].Answer != models.LetterC || got.Answers[1].Answer != nil {
		t.Errorf("answers not preserved: %+v", got.Answers)
	}

	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, 42); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound after delete, got %v", err)
	}
}

func TestSnapshotStore_WithoutRedis(t *testing.T) {
	store := NewSnapshotStore(nil, 0)
	ctx := context.Background()

	if err := store.Put(ctx, &engine.Snapshot{SessionID: 1}); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("expected ErrCacheNotAvailable, got %v", err)
	}
	if _, err := store.Get(ctx, 1); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
	if err := store.Delete(ctx, 1); err != nil {
		t.Errorf("Delete without redis should be a no-op, got %v", err)
	}
}

func TestSnapshotStore_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSnapshotStore(client, time.Minute)
	mr.Close()

	err := store.Put(context.Background(), &engine.Snapshot{SessionID: 9})
	if err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestFetch(t *testing.T) {
	mr, client := newTestRedis(t)
	helper := NewCacheHelper(client, ExamContentCacheConfig.Prefix)
	ctx := context.Background()

	calls := 0
	load := func() ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	first, err := Fetch(ctx, helper, QuestionsKey(7), time.Minute, load)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(first) != 3 || calls != 1 {
		t.Fatalf("first call: got %v calls=%d", first, calls)
	}
	if !mr.Exists("exam:set:7:questions") {
		t.Fatal("value was not cached")
	}

	second, err := Fetch(ctx, helper, QuestionsKey(7), time.Minute, load)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 1 || len(second) != 3 {
		t.Errorf("expected cache hit, calls=%d value=%v", calls, second)
	}

	mr.Set("exam:set:7", "{}")
	InvalidateExamSet(ctx, NewCacheManager(client), 7)
	if mr.Exists("exam:set:7:questions") || mr.Exists("exam:set:7") {
		t.Error("InvalidateExamSet left exam set keys behind")
	}
}

func TestFetch_LoadErrorAndNoRedis(t *testing.T) {
	ctx := context.Background()
	helper := NewCacheHelper(nil, ExamContentCacheConfig.Prefix)

	boom := errors.New("db down")
	if _, err := Fetch(ctx, helper, ExamSetKey(1), time.Minute, func() (*models.ExamSet, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}

	set, err := Fetch(ctx, helper, ExamSetKey(1), time.Minute, func() (*models.ExamSet, error) {
		return &models.ExamSet{ID: 1, Title: "Practice"}, nil
	})
	if err != nil || set.Title != "Practice" {
		t.Fatalf("Fetch without redis = %+v, %v", set, err)
	}
}
