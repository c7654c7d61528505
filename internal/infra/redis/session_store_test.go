package redis

import (
	"context"
	"reflect"
	"testing"
	"time"

	"timed-quiz-service/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestStore(t)

	session := domain.Session{
		Identity:        "alice@example.com",
		Status:          domain.StatusInProgress,
		StartedAt:       1717234200000,
		DurationSeconds: 1800,
		Questions: []domain.Question{
			{ID: "1", Text: "q", CorrectAnswer: "a", Choices: []string{"a", "b"}},
		},
		Answers: map[int]string{0: "a"},
		Visited: map[int]bool{0: true},
	}
	if err := store.Save(ctx, "k1", session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("quiz:session:k1") {
		t.Fatalf("expected blob under quiz:session:k1")
	}

	loaded, ok, err := store.Load(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(session, loaded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, session)
	}

	if err := store.Clear(ctx, "k1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists("quiz:session:k1") {
		t.Fatalf("expected key removed")
	}
	if _, ok, _ := store.Load(ctx, "k1"); ok {
		t.Fatalf("expected absent after clear")
	}
}

func TestSessionStoreSetsTTL(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestStore(t)

	session := domain.Session{
		Identity:        "alice@example.com",
		Status:          domain.StatusInProgress,
		StartedAt:       1,
		DurationSeconds: 1800,
		Answers:         map[int]string{},
		Visited:         map[int]bool{},
	}
	if err := store.Save(ctx, "k1", session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("quiz:session:k1"); ttl <= 0 {
		t.Fatalf("expected positive TTL, got %v", ttl)
	}
}

func TestSessionStoreCorruptBlobReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestStore(t)

	if err := mr.Set("quiz:session:k1", "not a session"); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}
	if _, ok, err := store.Load(ctx, "k1"); ok || err != nil {
		t.Fatalf("expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func newTestStore(t *testing.T) (*miniredis.Miniredis, *SessionStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewSessionStore(client, time.Minute)
}
