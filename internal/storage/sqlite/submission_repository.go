package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/italolelis/jdownloader_remote/internal/storage"
)

type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(dbConn *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: dbConn}
}

// RecordSubmission inserts s and sets its ID. A zero SubmittedAt is set to now.
func (r *SubmissionRepository) RecordSubmission(ctx context.Context, s *storage.Submission) error {
	links, err := json.Marshal(s.Links)
	if err != nil {
		return fmt.Errorf("failed to encode links: %w", err)
	}

	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}

	var errMsg sql.NullString
	if s.Error != "" {
		errMsg = sql.NullString{String: s.Error, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (device_id, links, link_count, autostart, status, error, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.DeviceID, string(links), len(s.Links), s.Autostart, s.Status, errMsg, s.SubmittedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read submission id: %w", err)
	}

	return nil
}

func (r *SubmissionRepository) ListSubmissions(ctx context.Context, limit int) ([]storage.Submission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, links, autostart, status, error, submitted_at
		FROM submissions
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	submissions := make([]storage.Submission, 0)

	for rows.Next() {
		var (
			s           storage.Submission
			deviceID    sql.NullString
			links       string
			errMsg      sql.NullString
			submittedAt int64
		)

		if err := rows.Scan(&s.ID, &deviceID, &links, &s.Autostart, &s.Status, &errMsg, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}

		if err := json.Unmarshal([]byte(links), &s.Links); err != nil {
			return nil, fmt.Errorf("failed to decode links of submission %d: %w", s.ID, err)
		}

		s.DeviceID = deviceID.String
		s.Error = errMsg.String
		s.SubmittedAt = time.UnixMilli(submittedAt).UTC()

		submissions = append(submissions, s)
	}

	return submissions, rows.Err()
}

func (r *SubmissionRepository) DeleteSubmissionsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE submitted_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete submissions: %w", err)
	}

	return res.RowsAffected()
}
