package app_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
	"timed-quiz-service/internal/infra/memory"
)

func TestCreateValidatesIdentity(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t, nil)

	for _, identity := range []string{"", "   ", "not-an-email", "user@", "@example.com"} {
		if _, err := service.Create(ctx, "k1", identity); !errors.Is(err, domain.ErrInvalidIdentity) {
			t.Fatalf("identity %q: expected ErrInvalidIdentity, got %v", identity, err)
		}
	}
	if _, ok, _ := store.Load(ctx, "k1"); ok {
		t.Fatalf("failed create must not persist anything")
	}
}

func TestCreateStartsFreshSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)

	session, err := service.Create(ctx, "k1", "  alice@example.com ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Identity != "alice@example.com" {
		t.Fatalf("expected trimmed identity, got %q", session.Identity)
	}
	if session.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", session.Status)
	}
	if session.StartedAt != testClock().UnixMilli() {
		t.Fatalf("expected startedAt from clock, got %d", session.StartedAt)
	}
	if session.DurationSeconds != 1800 {
		t.Fatalf("expected 1800s duration, got %d", session.DurationSeconds)
	}
	if len(session.Questions) != 0 || len(session.Answers) != 0 || len(session.Visited) != 0 {
		t.Fatalf("expected empty questions/answers/visited, got %+v", session)
	}
}

func TestCreateDiscardsPriorSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)

	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.AttachQuestions(ctx, "k1", sampleQuestions(3)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := service.RecordAnswer(ctx, "k1", 0, "A0"); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	session, err := service.Create(ctx, "k1", "bob@example.com")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if session.Identity != "bob@example.com" || len(session.Questions) != 0 || len(session.Answers) != 0 {
		t.Fatalf("expected fresh session, got %+v", session)
	}
}

func TestAttachQuestionsOnlyOnce(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)

	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := sampleQuestions(3)
	session, err := service.AttachQuestions(ctx, "k1", first)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(session.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(session.Questions))
	}

	// A second attach (duplicate fetch racing recovery) must be a no-op.
	session, err = service.AttachQuestions(ctx, "k1", sampleQuestions(5))
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if len(session.Questions) != 3 {
		t.Fatalf("expected question set frozen at 3, got %d", len(session.Questions))
	}
	if session.Questions[0].ID != first[0].ID {
		t.Fatalf("expected original question set retained")
	}
}

func TestEnsureQuestionsFetchesOnce(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{raw: sampleRawQuestions(15)}
	service, _ := newTestService(t, source)

	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err := service.EnsureQuestions(ctx, "k1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(session.Questions) != 15 {
		t.Fatalf("expected 15 questions, got %d", len(session.Questions))
	}
	if _, err := service.EnsureQuestions(ctx, "k1"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", source.calls)
	}
}

func TestEnsureQuestionsFetchFailure(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{err: fmt.Errorf("%w: boom", domain.ErrQuestionFetch)}
	service, _ := newTestService(t, source)

	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.EnsureQuestions(ctx, "k1"); !errors.Is(err, domain.ErrQuestionFetch) {
		t.Fatalf("expected ErrQuestionFetch, got %v", err)
	}
	// Session still recoverable in its loading substate after a failed fetch.
	session, ok, _ := service.Recover(ctx, "k1")
	if !ok || session.Status != domain.StatusInProgress || len(session.Questions) != 0 {
		t.Fatalf("expected in_progress loading session, got ok=%v %+v", ok, session)
	}
}

func TestNormalizedChoicesContainCorrectAnswer(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{raw: sampleRawQuestions(15)}
	service, _ := newTestService(t, source)

	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err := service.EnsureQuestions(ctx, "k1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i, q := range session.Questions {
		if q.ID != fmt.Sprintf("%d", i+1) {
			t.Fatalf("expected IDs in assignment order, got %q at %d", q.ID, i)
		}
		if len(q.Choices) != 4 {
			t.Fatalf("expected 4 choices, got %d", len(q.Choices))
		}
		found := false
		for _, c := range q.Choices {
			if c == q.CorrectAnswer {
				found = true
			}
		}
		if !found {
			t.Fatalf("choices for question %d missing correct answer", i)
		}
	}
}

func TestRecordAnswerBoundsAndMembership(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	// Out-of-range index and unknown choice are silent no-ops.
	for _, c := range []struct {
		index  int
		choice string
	}{{-1, "A0"}, {3, "A0"}, {0, "not-a-choice"}} {
		session, err := service.RecordAnswer(ctx, "k1", c.index, c.choice)
		if err != nil {
			t.Fatalf("record answer: %v", err)
		}
		if len(session.Answers) != 0 {
			t.Fatalf("expected no answer recorded for %+v", c)
		}
	}

	session, err := service.RecordAnswer(ctx, "k1", 1, "A1")
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if session.Answers[1] != "A1" {
		t.Fatalf("expected answer A1 at index 1, got %q", session.Answers[1])
	}

	// Latest answer wins.
	session, err = service.RecordAnswer(ctx, "k1", 1, "B1")
	if err != nil {
		t.Fatalf("overwrite answer: %v", err)
	}
	if session.Answers[1] != "B1" {
		t.Fatalf("expected overwritten answer B1, got %q", session.Answers[1])
	}
}

func TestNavigateBounds(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	for _, target := range []int{-1, 3, 99} {
		index, err := service.Navigate(ctx, "k1", 1, target)
		if err != nil {
			t.Fatalf("navigate: %v", err)
		}
		if index != 1 {
			t.Fatalf("expected index unchanged at 1, got %d", index)
		}
	}
	session, _, _ := service.Recover(ctx, "k1")
	if len(session.Visited) != 0 {
		t.Fatalf("out-of-range navigation must not mark visited, got %v", session.Visited)
	}

	index, err := service.Navigate(ctx, "k1", 1, 2)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if index != 2 {
		t.Fatalf("expected index 2, got %d", index)
	}
	session, _, _ = service.Recover(ctx, "k1")
	if !session.Visited[2] {
		t.Fatalf("expected destination marked visited")
	}
}

func TestMarkVisitedIdempotent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	if _, err := service.MarkVisited(ctx, "k1", 0); err != nil {
		t.Fatalf("mark visited: %v", err)
	}
	if _, err := service.MarkVisited(ctx, "k1", 0); err != nil {
		t.Fatalf("mark visited again: %v", err)
	}
	session, _, _ := service.Recover(ctx, "k1")
	if len(session.Visited) != 1 || !session.Visited[0] {
		t.Fatalf("expected visited {0}, got %v", session.Visited)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	ctx := context.Background()

	// Manual first: the timeout tick arriving later must not flip the flag.
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)
	session, err := service.Submit(ctx, "k1", true)
	if err != nil {
		t.Fatalf("manual submit: %v", err)
	}
	if session.Status != domain.StatusSubmitted || session.AutoSubmitted {
		t.Fatalf("expected manual submission, got %+v", session)
	}
	firstSubmittedAt := *session.SubmittedAt

	session, err = service.Submit(ctx, "k1", false)
	if err != nil {
		t.Fatalf("late auto submit: %v", err)
	}
	if session.AutoSubmitted {
		t.Fatalf("first submit must fix autoSubmitted=false")
	}
	if *session.SubmittedAt != firstSubmittedAt {
		t.Fatalf("submittedAt must not move on repeat submits")
	}

	// Auto first: a late manual submit is equally a no-op.
	service2, _ := newTestService(t, nil)
	setupActiveSession(t, service2, 3)
	if _, err := service2.Submit(ctx, "k1", false); err != nil {
		t.Fatalf("auto submit: %v", err)
	}
	session, err = service2.Submit(ctx, "k1", true)
	if err != nil {
		t.Fatalf("late manual submit: %v", err)
	}
	if !session.AutoSubmitted {
		t.Fatalf("first submit must fix autoSubmitted=true")
	}
}

func TestRestartThenRecoverAbsent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	if _, err := service.Submit(ctx, "k1", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := service.Restart(ctx, "k1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, ok, _ := service.Recover(ctx, "k1"); ok {
		t.Fatalf("expected absent session after restart")
	}
}

func TestRecoverTreatsCorruptBlobAsAbsent(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t, nil)

	for _, blob := range []string{
		"not json at all",
		`{"status":"bogus","email":"a@b.com","startedAt":1,"durationSeconds":1800}`,
		`{"status":"in_progress"}`,
	} {
		store.Put("k1", []byte(blob))
		if _, ok, err := service.Recover(ctx, "k1"); err != nil || ok {
			t.Fatalf("blob %q: expected absent without error, got ok=%v err=%v", blob, ok, err)
		}
	}
}

func TestSubmittedSessionRejectsMutation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	if _, err := service.Submit(ctx, "k1", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	session, err := service.RecordAnswer(ctx, "k1", 0, "A0")
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if len(session.Answers) != 0 {
		t.Fatalf("submitted session must not accept answers")
	}
}

func TestSubmittedSessionRejectsNavigation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)
	setupActiveSession(t, service, 3)

	if _, err := service.Navigate(ctx, "k1", 0, 1); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, err := service.Submit(ctx, "k1", true); err != nil {
		t.Fatalf("submit: %v", err)
	}

	index, err := service.Navigate(ctx, "k1", 1, 2)
	if err != nil {
		t.Fatalf("navigate after submit: %v", err)
	}
	if index != 1 {
		t.Fatalf("submitted session must not navigate, got index %d", index)
	}
	session, err := service.MarkVisited(ctx, "k1", 2)
	if err != nil {
		t.Fatalf("mark visited after submit: %v", err)
	}
	if session.Visited[2] {
		t.Fatalf("submitted session must not record visits")
	}
	if !session.Visited[1] {
		t.Fatalf("pre-submit visits must survive, got %+v", session.Visited)
	}
}

func TestFullAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{raw: sampleRawQuestions(15)}
	service, _ := newTestService(t, source)

	if _, err := service.Create(ctx, "k1", "a@b.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err := service.EnsureQuestions(ctx, "k1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := service.RecordAnswer(ctx, "k1", i, session.Questions[i].CorrectAnswer); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}
	if _, err := service.Navigate(ctx, "k1", 0, 7); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	session, _, _ = service.Recover(ctx, "k1")
	if !session.Visited[7] {
		t.Fatalf("expected index 7 visited")
	}
	if session.Visited[3] {
		t.Fatalf("index 3 was never the active question")
	}

	session, err = service.Submit(ctx, "k1", true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if session.Status != domain.StatusSubmitted || session.AutoSubmitted {
		t.Fatalf("expected manual submission, got %+v", session)
	}

	report, err := app.Score(session)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if report.CorrectCount != 5 || report.Total != 15 {
		t.Fatalf("expected 5/15, got %d/%d", report.CorrectCount, report.Total)
	}
}

func TestSubmitRequiresSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, nil)

	if _, err := service.Submit(ctx, "missing", true); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// --- helpers ---

type stubSource struct {
	raw   []domain.RawQuestion
	err   error
	calls int
}

func (s *stubSource) Fetch(_ context.Context, _ int) ([]domain.RawQuestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.raw, nil
}

func testClock() time.Time {
	return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, source *stubSource) (*app.SessionService, *memory.SessionStore) {
	t.Helper()
	if source == nil {
		source = &stubSource{raw: sampleRawQuestions(15)}
	}
	store := memory.NewSessionStore()
	service := app.NewSessionService(store, source, 15, 30*time.Minute,
		app.WithClock(testClock),
		app.WithRand(rand.New(rand.NewSource(42))),
	)
	return service, store
}

func setupActiveSession(t *testing.T, service *app.SessionService, n int) {
	t.Helper()
	ctx := context.Background()
	if _, err := service.Create(ctx, "k1", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.AttachQuestions(ctx, "k1", sampleQuestions(n)); err != nil {
		t.Fatalf("attach: %v", err)
	}
}

func sampleQuestions(n int) []domain.Question {
	questions := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, domain.Question{
			ID:            fmt.Sprintf("%d", i+1),
			Text:          fmt.Sprintf("Question %d?", i+1),
			CorrectAnswer: fmt.Sprintf("A%d", i),
			Choices:       []string{fmt.Sprintf("A%d", i), fmt.Sprintf("B%d", i), fmt.Sprintf("C%d", i)},
		})
	}
	return questions
}

func sampleRawQuestions(n int) []domain.RawQuestion {
	raw := make([]domain.RawQuestion, 0, n)
	for i := 0; i < n; i++ {
		raw = append(raw, domain.RawQuestion{
			Text:          fmt.Sprintf("Question %d?", i+1),
			CorrectAnswer: fmt.Sprintf("Right %d", i),
			IncorrectAnswers: []string{
				fmt.Sprintf("Wrong %d-1", i),
				fmt.Sprintf("Wrong %d-2", i),
				fmt.Sprintf("Wrong %d-3", i),
			},
		})
	}
	return raw
}
