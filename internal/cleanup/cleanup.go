package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/storage"
)

// DeleteExpiredSubmissions removes journal entries older than keepDuration.
func DeleteExpiredSubmissions(ctx context.Context, repo storage.SubmissionWriteRepository, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepDuration)

	deleted, err := repo.DeleteSubmissionsBefore(ctx, cutoff)
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete expired submissions", "err", err)

		return fmt.Errorf("failed to delete expired submissions: %w", err)
	}

	if deleted > 0 {
		logger.InfoContext(ctx, "deleted expired submissions", "count", deleted, "cutoff", cutoff)
	}

	return nil
}
