package app

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"timed-quiz-service/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// SessionStore abstracts the persistent key-value store holding the single
// serialized session per key (in-memory, Redis, etc). A structurally corrupt
// stored blob is reported as absent, never as an error.
type SessionStore interface {
	Load(ctx context.Context, key string) (domain.Session, bool, error)
	Save(ctx context.Context, key string, s domain.Session) error
	Clear(ctx context.Context, key string) error
}

// QuestionSource fetches raw questions from the external question bank.
type QuestionSource interface {
	Fetch(ctx context.Context, amount int) ([]domain.RawQuestion, error)
}

// ReportArchiver persists scored reports of submitted sessions and serves
// them back per identity.
type ReportArchiver interface {
	SaveReport(ctx context.Context, key string, s domain.Session, r domain.Report) error
	ReportsByIdentity(ctx context.Context, identity string) ([]domain.Report, error)
}

// SessionService owns the quiz session lifecycle: creation, recovery,
// question attachment, answer/visit tracking, navigation and submission.
// The persisted record is the source of truth; every mutation here is a
// full load-mutate-store cycle under a per-key lock, so concurrent calls
// (notably a manual submit racing the countdown's auto-submit) serialize
// on the same read-check-write.
type SessionService struct {
	store         SessionStore
	source        QuestionSource
	archive       ReportArchiver // optional
	log           zerolog.Logger
	validate      *validator.Validate
	questionCount int
	duration      time.Duration
	now           func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	fetchGroup singleflight.Group

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithRand overrides the shuffle source, for deterministic tests.
func WithRand(rnd *rand.Rand) Option {
	return func(s *SessionService) { s.rnd = rnd }
}

// WithArchive attaches a report archive written to on first submit.
func WithArchive(a ReportArchiver) Option {
	return func(s *SessionService) { s.archive = a }
}

// WithLogger replaces the default no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *SessionService) {
		s.log = log.With().Str("component", "session_service").Logger()
	}
}

func NewSessionService(store SessionStore, source QuestionSource, questionCount int, duration time.Duration, opts ...Option) *SessionService {
	s := &SessionService{
		store:         store,
		source:        source,
		log:           zerolog.Nop(),
		validate:      validator.New(),
		questionCount: questionCount,
		duration:      duration,
		now:           time.Now,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keyLock returns the mutex serializing all mutations for one session key.
func (s *SessionService) keyLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

// Create validates the identity and starts a fresh in-progress session,
// discarding any previous record under the same key. Questions arrive
// later via EnsureQuestions; until then the session is in its transient
// "loading" substate.
func (s *SessionService) Create(ctx context.Context, key, identity string) (domain.Session, error) {
	identity = strings.TrimSpace(identity)
	if err := s.validate.Var(identity, "required,email"); err != nil {
		return domain.Session{}, domain.ErrInvalidIdentity
	}

	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.Clear(ctx, key); err != nil {
		return domain.Session{}, fmt.Errorf("clear previous session: %w", err)
	}
	session := domain.Session{
		Identity:        identity,
		Status:          domain.StatusInProgress,
		StartedAt:       s.now().UnixMilli(),
		DurationSeconds: int(s.duration / time.Second),
		Questions:       nil,
		Answers:         make(map[int]string),
		Visited:         make(map[int]bool),
	}
	if err := s.store.Save(ctx, key, session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.log.Info().Str("identity", identity).Msg("session created")
	return session, nil
}

// Recover loads the persisted session for key. A missing or corrupt record
// yields ok=false; the caller routes to session creation.
func (s *SessionService) Recover(ctx context.Context, key string) (domain.Session, bool, error) {
	return s.store.Load(ctx, key)
}

// EnsureQuestions fetches and attaches the question set exactly once.
// Concurrent callers (recovery racing a fresh page entry) collapse into a
// single provider call; AttachQuestions re-checks under the key lock so a
// late duplicate fetch can never replace an already attached set.
func (s *SessionService) EnsureQuestions(ctx context.Context, key string) (domain.Session, error) {
	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if len(session.Questions) > 0 || session.Status != domain.StatusInProgress {
		return session, nil
	}

	result, err, _ := s.fetchGroup.Do(key, func() (interface{}, error) {
		raw, err := s.source.Fetch(ctx, s.questionCount)
		if err != nil {
			return nil, err
		}
		return s.normalize(raw), nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return s.AttachQuestions(ctx, key, result.([]domain.Question))
}

// AttachQuestions sets the question set if and only if it is still empty.
// Subsequent calls are no-ops, guarding against duplicate fetches.
func (s *SessionService) AttachQuestions(ctx context.Context, key string, questions []domain.Question) (domain.Session, error) {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if len(session.Questions) > 0 {
		return session, nil
	}
	session.Questions = questions
	if err := s.store.Save(ctx, key, session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.log.Info().Int("count", len(questions)).Msg("questions attached")
	return session, nil
}

// RecordAnswer stores the latest choice for the question at index. An
// out-of-range index or a choice not among the question's choices is
// absorbed as a no-op: such calls can only come from stale UI state.
func (s *SessionService) RecordAnswer(ctx context.Context, key string, index int, choice string) (domain.Session, error) {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusInProgress {
		return session, nil
	}
	if index < 0 || index >= len(session.Questions) {
		return session, nil
	}
	if !containsChoice(session.Questions[index].Choices, choice) {
		return session, nil
	}
	session.Answers[index] = choice
	if err := s.store.Save(ctx, key, session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// MarkVisited adds index to the visited set. Idempotent; ignored while the
// question set is still empty or when index is out of range.
func (s *SessionService) MarkVisited(ctx context.Context, key string, index int) (domain.Session, error) {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusInProgress {
		return session, nil
	}
	if len(session.Questions) == 0 || index < 0 || index >= len(session.Questions) {
		return session, nil
	}
	if session.Visited[index] {
		return session, nil
	}
	session.Visited[index] = true
	if err := s.store.Save(ctx, key, session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// Navigate moves the active question from `from` to `to`. Out-of-bounds
// targets leave the index unchanged and touch nothing; a valid move marks
// the destination visited.
func (s *SessionService) Navigate(ctx context.Context, key string, from, to int) (int, error) {
	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return from, err
	}
	if !ok {
		return from, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusInProgress {
		return from, nil
	}
	if to < 0 || to >= len(session.Questions) {
		return from, nil
	}
	if _, err := s.MarkVisited(ctx, key, to); err != nil {
		return from, err
	}
	return to, nil
}

// Submit marks the session submitted. Idempotent: the persisted record is
// re-read under the key lock immediately before deciding, so whichever of
// the racing manual submit and timeout tick arrives first wins and fixes
// the autoSubmitted flag; the loser is a no-op.
func (s *SessionService) Submit(ctx context.Context, key string, manual bool) (domain.Session, error) {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	session, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status == domain.StatusSubmitted {
		return session, nil
	}

	now := s.now().UnixMilli()
	session.Status = domain.StatusSubmitted
	session.SubmittedAt = &now
	session.AutoSubmitted = !manual
	if err := s.store.Save(ctx, key, session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.log.Info().
		Str("identity", session.Identity).
		Bool("auto", session.AutoSubmitted).
		Msg("session submitted")

	if s.archive != nil {
		if report, err := Score(session); err == nil {
			if err := s.archive.SaveReport(ctx, key, session, report); err != nil {
				s.log.Error().Err(err).Msg("archive report")
			}
		}
	}
	return session, nil
}

// History returns archived reports for identity, newest first. Empty when
// no archive is configured.
func (s *SessionService) History(ctx context.Context, identity string) ([]domain.Report, error) {
	if s.archive == nil {
		return nil, nil
	}
	return s.archive.ReportsByIdentity(ctx, identity)
}

// Restart clears the persisted record unconditionally; a subsequent
// Recover returns absent.
func (s *SessionService) Restart(ctx context.Context, key string) error {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()
	if err := s.store.Clear(ctx, key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.log.Info().Msg("session cleared")
	return nil
}

// normalize converts raw provider questions into the internal shape, with
// choices shuffled once (Fisher-Yates) and frozen, and IDs assigned in
// arrival order. Re-shuffling per render would shift options under the
// user and make stored answers ambiguous.
func (s *SessionService) normalize(raw []domain.RawQuestion) []domain.Question {
	questions := make([]domain.Question, 0, len(raw))
	for i, rq := range raw {
		choices := make([]string, 0, len(rq.IncorrectAnswers)+1)
		choices = append(choices, rq.CorrectAnswer)
		choices = append(choices, rq.IncorrectAnswers...)
		s.shuffle(choices)
		questions = append(questions, domain.Question{
			ID:            strconv.Itoa(i + 1),
			Text:          rq.Text,
			CorrectAnswer: rq.CorrectAnswer,
			Choices:       choices,
		})
	}
	return questions
}

func (s *SessionService) shuffle(choices []string) {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	for i := len(choices) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		choices[i], choices[j] = choices[j], choices[i]
	}
}

func containsChoice(choices []string, choice string) bool {
	for _, c := range choices {
		if c == choice {
			return true
		}
	}
	return false
}
