package app

import (
	"timed-quiz-service/internal/domain"
)

// Score computes the report for a submitted session. Pure: no side
// effects, safe to call any number of times. Correctness is exact string
// equality over the stored (raw) text; unanswered questions count as
// incorrect. Calling this on a non-submitted session is a caller error,
// kept out by the report route guard.
func Score(s domain.Session) (domain.Report, error) {
	if s.Status != domain.StatusSubmitted {
		return domain.Report{}, domain.ErrNotSubmitted
	}

	report := domain.Report{
		Identity:      s.Identity,
		Total:         len(s.Questions),
		AutoSubmitted: s.AutoSubmitted,
		PerQuestion:   make([]domain.QuestionResult, 0, len(s.Questions)),
	}
	for i, q := range s.Questions {
		answer, answered := s.Answers[i]
		correct := answered && answer == q.CorrectAnswer
		if correct {
			report.CorrectCount++
		}
		report.PerQuestion = append(report.PerQuestion, domain.QuestionResult{
			Index:         i,
			UserAnswer:    answer,
			Answered:      answered && answer != "",
			CorrectAnswer: q.CorrectAnswer,
			Correct:       correct,
		})
	}
	return report, nil
}
