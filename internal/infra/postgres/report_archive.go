package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timed-quiz-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReportArchive writes scored reports of submitted sessions to Postgres.
// One row per submission; the full per-question breakdown goes into a
// JSONB column so the report view can be replayed later without the
// session blob.
type ReportArchive struct {
	pool *pgxpool.Pool
}

func NewReportArchive(pool *pgxpool.Pool) *ReportArchive {
	return &ReportArchive{pool: pool}
}

func (a *ReportArchive) SaveReport(ctx context.Context, key string, s domain.Session, r domain.Report) error {
	breakdown, err := json.Marshal(r.PerQuestion)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var submittedAt time.Time
	if s.SubmittedAt != nil {
		submittedAt = time.UnixMilli(*s.SubmittedAt)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO session_reports
			(id, session_key, identity, started_at, submitted_at, auto_submitted, correct_count, total, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), key, s.Identity,
		time.UnixMilli(s.StartedAt), submittedAt,
		s.AutoSubmitted, r.CorrectCount, r.Total, breakdown,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// ReportsByIdentity returns archived reports for one identity, newest
// first, without the per-question breakdown.
func (a *ReportArchive) ReportsByIdentity(ctx context.Context, identity string) ([]domain.Report, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT identity, auto_submitted, correct_count, total
		FROM session_reports
		WHERE identity = $1
		ORDER BY submitted_at DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.Identity, &r.AutoSubmitted, &r.CorrectCount, &r.Total); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
