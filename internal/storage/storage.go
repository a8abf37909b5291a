package storage

import (
	"context"
	"time"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Submission is one POST /add that reached the upstream service.
type Submission struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Links       []string  `json:"links"`
	Autostart   bool      `json:"autostart"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type SubmissionReadRepository interface {
	// ListSubmissions returns at most limit submissions, newest first.
	ListSubmissions(ctx context.Context, limit int) ([]Submission, error)
}

type SubmissionWriteRepository interface {
	RecordSubmission(ctx context.Context, s *Submission) error
	// DeleteSubmissionsBefore removes submissions older than t and reports how many were removed.
	DeleteSubmissionsBefore(ctx context.Context, t time.Time) (int64, error)
}

type SubmissionRepository interface {
	SubmissionReadRepository
	SubmissionWriteRepository
}
