package domain

// Status is the lifecycle state of a quiz session. Transitions are
// monotonic: not_started -> in_progress -> submitted, never backwards.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

// Question is one normalized quiz question. Text and choices are stored
// exactly as the provider delivered them (HTML entities included) so that
// answer comparisons always run over identical encodings; decoding for
// display belongs to the transport layer.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"question"`
	CorrectAnswer string   `json:"correctAnswer"`
	Choices       []string `json:"choices"`
}

// Session is the single record for one quiz attempt. It is the only unit
// of persisted state: every mutation is a whole-record read-modify-write
// against the session store, so a reload at any point reconstructs exact
// progress from the stored copy.
type Session struct {
	Identity        string         `json:"email"`
	Status          Status         `json:"status"`
	StartedAt       int64          `json:"startedAt"` // unix milliseconds
	DurationSeconds int            `json:"durationSeconds"`
	Questions       []Question     `json:"questions"`
	Answers         map[int]string `json:"answers"`
	Visited         map[int]bool   `json:"visited"`
	SubmittedAt     *int64         `json:"submittedAt"`
	AutoSubmitted   bool           `json:"autoSubmitted"`
}

// Attempted reports whether the question at index carries a non-empty
// answer. An empty-string answer is indistinguishable from unanswered;
// the provider never hands out empty choices in practice.
func (s *Session) Attempted(index int) bool {
	return s.Answers[index] != ""
}

// AttemptedCount counts questions with a non-empty recorded answer.
func (s *Session) AttemptedCount() int {
	n := 0
	for _, a := range s.Answers {
		if a != "" {
			n++
		}
	}
	return n
}

// QuestionResult is the per-question line of a scored report.
type QuestionResult struct {
	Index         int    `json:"index"`
	UserAnswer    string `json:"userAnswer"`
	Answered      bool   `json:"answered"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
}

// Report is the scored outcome of a submitted session.
type Report struct {
	Identity      string           `json:"email"`
	CorrectCount  int              `json:"correctCount"`
	Total         int              `json:"total"`
	AutoSubmitted bool             `json:"autoSubmitted"`
	PerQuestion   []QuestionResult `json:"perQuestion"`
}

// RawQuestion is the provider-shaped input to normalization: one prompt,
// one correct answer, at least one distractor.
type RawQuestion struct {
	Text             string
	CorrectAnswer    string
	IncorrectAnswers []string
}
