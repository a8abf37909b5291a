package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands every requested wait to the test, which releases it by
// sending on the returned channel.
type fakeClock struct {
	waits chan fakeWait
}

type fakeWait struct {
	d    time.Duration
	fire chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{waits: make(chan fakeWait, 16)}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	w := fakeWait{d: d, fire: make(chan time.Time, 1)}
	c.waits <- w

	return w.fire
}

func (c *fakeClock) nextWait(t *testing.T) fakeWait {
	t.Helper()

	select {
	case w := <-c.waits:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the scheduler to wait")
		return fakeWait{}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")

		var zero T

		return zero
	}
}

func TestStart_ImmediateRunsThenWaitsFixedInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	runs := make(chan int, 16)
	count := 0

	done := Start(ctx, clock, Task{
		Name:      "monitor",
		Interval:  time.Minute,
		Immediate: true,
		Run: func(context.Context) error {
			count++
			runs <- count

			return nil
		},
	})

	assert.Equal(t, 1, receive(t, runs))

	for i := 2; i <= 4; i++ {
		w := clock.nextWait(t)
		assert.Equal(t, time.Minute, w.d)

		w.fire <- time.Now()

		assert.Equal(t, i, receive(t, runs))
	}

	cancel()
	receive(t, done)
}

func TestStart_DelayedFirstRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	runs := make(chan struct{}, 1)

	done := Start(ctx, clock, Task{
		Name:     "renew",
		Interval: 30 * time.Minute,
		Run: func(context.Context) error {
			runs <- struct{}{}
			return nil
		},
	})

	w := clock.nextWait(t)
	assert.Equal(t, 30*time.Minute, w.d)
	assert.Empty(t, runs, "must not run before the first interval elapses")

	w.fire <- time.Now()
	receive(t, runs)

	cancel()
	receive(t, done)
}

func TestStart_ContinuesAfterErrorAndPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	runs := make(chan int, 16)
	count := 0

	done := Start(ctx, clock, Task{
		Name:      "flaky",
		Interval:  time.Second,
		Immediate: true,
		Run: func(context.Context) error {
			count++
			runs <- count

			switch count {
			case 1:
				return errors.New("upstream unavailable")
			case 2:
				panic("boom")
			}

			return nil
		},
	})

	assert.Equal(t, 1, receive(t, runs))
	clock.nextWait(t).fire <- time.Now()
	assert.Equal(t, 2, receive(t, runs))
	clock.nextWait(t).fire <- time.Now()
	assert.Equal(t, 3, receive(t, runs))

	cancel()
	receive(t, done)
}

func TestStart_CancelledContextStopsBeforeRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	done := Start(ctx, RealClock, Task{
		Name:     "never",
		Interval: time.Hour,
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	})

	receive(t, done)
	require.False(t, ran)
}
