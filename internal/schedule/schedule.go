// Package schedule runs background tasks with a fixed delay between runs.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
)

// Clock abstracts waiting so tests can drive the schedule.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock waits on wall-clock time.
var RealClock Clock = realClock{}

// Task is a unit of recurring work.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once at start instead of waiting one interval first.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Start runs the task in its own goroutine until ctx is cancelled. Each run is
// followed by exactly one wait of Interval, so runs never overlap. Errors and
// panics are logged and the schedule continues. The returned channel is closed
// once the loop has exited.
func Start(ctx context.Context, clock Clock, task Task) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		if !task.Immediate && !wait(ctx, clock, task.Interval) {
			return
		}

		for {
			runOnce(ctx, task)

			if !wait(ctx, clock, task.Interval) {
				return
			}
		}
	}()

	return done
}

func wait(ctx context.Context, clock Clock, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}

func runOnce(ctx context.Context, task Task) {
	logger := logctx.LoggerFromContext(ctx).With("task", task.Name)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "scheduled task panic",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WarnContext(ctx, "scheduled task failed", "err", err)
	}
}
