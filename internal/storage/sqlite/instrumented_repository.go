package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/jdownloader_remote/internal/storage"
	"github.com/italolelis/jdownloader_remote/internal/telemetry"
)

// InstrumentedSubmissionRepository wraps SubmissionRepository with telemetry.
type InstrumentedSubmissionRepository struct {
	repo      *SubmissionRepository
	telemetry *telemetry.Telemetry
}

var _ storage.SubmissionRepository = (*InstrumentedSubmissionRepository)(nil)

// NewInstrumentedSubmissionRepository creates a new instrumented submission repository.
func NewInstrumentedSubmissionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedSubmissionRepository {
	return &InstrumentedSubmissionRepository{
		repo:      NewSubmissionRepository(dbConn),
		telemetry: tel,
	}
}

// RecordSubmission stores a submission with telemetry.
func (r *InstrumentedSubmissionRepository) RecordSubmission(ctx context.Context, s *storage.Submission) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_submission", func(ctx context.Context) error {
		return r.repo.RecordSubmission(ctx, s)
	})
}

// ListSubmissions lists submissions with telemetry.
func (r *InstrumentedSubmissionRepository) ListSubmissions(ctx context.Context, limit int) ([]storage.Submission, error) {
	var result []storage.Submission

	err := r.telemetry.InstrumentDBOperation(ctx, "list_submissions", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListSubmissions(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteSubmissionsBefore prunes old submissions with telemetry.
func (r *InstrumentedSubmissionRepository) DeleteSubmissionsBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_submissions", func(ctx context.Context) error {
		var err error
		deleted, err = r.repo.DeleteSubmissionsBefore(ctx, t)

		return err
	})

	return deleted, err
}
