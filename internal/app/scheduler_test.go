//go:build unit

package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratdemir0/gopulse-dispatch/internal/app"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingTask(counter *int32) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		atomic.AddInt32(counter, 1)
		return nil
	}
}

func TestScheduler(t *testing.T) {
	t.Run("Given a started scheduler, when the interval elapses, then the task runs again until stopped", func(t *testing.T) {
		var runs int32
		s := app.NewScheduler(10*time.Millisecond, countingTask(&runs), discardLogger())

		s.Start()
		require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)
		s.Stop()

		stopped := atomic.LoadInt32(&runs)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, stopped, atomic.LoadInt32(&runs))
		assert.False(t, s.IsRunning())
	})

	t.Run("Given a long interval, when started, then the task runs immediately", func(t *testing.T) {
		ran := make(chan struct{}, 1)
		s := app.NewScheduler(time.Hour, func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		}, discardLogger())

		s.Start()
		defer s.Stop()

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("task did not run on start")
		}
	})

	t.Run("Given a running scheduler, when started twice or stopped twice, then nothing breaks", func(t *testing.T) {
		var runs int32
		s := app.NewScheduler(time.Hour, countingTask(&runs), discardLogger())

		s.Start()
		s.Start()
		require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)

		s.Stop()
		assert.NotPanics(t, s.Stop)
		assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	})

	t.Run("Given a failing task, when it runs, then the error is logged", func(t *testing.T) {
		var out bytes.Buffer
		s := app.NewScheduler(time.Hour, func(ctx context.Context) error {
			return errors.New("gateway unreachable")
		}, slog.New(slog.NewTextHandler(&out, nil)))

		s.Start()
		time.Sleep(20 * time.Millisecond)
		s.Stop()

		assert.Contains(t, out.String(), "failed to execute task")
		assert.Contains(t, out.String(), "gateway unreachable")
	})

	t.Run("Given a task blocked on its context, when stopped, then Stop returns", func(t *testing.T) {
		started := make(chan struct{})
		s := app.NewScheduler(time.Hour, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		}, discardLogger())

		s.Start()
		<-started

		done := make(chan struct{})
		go func() {
			s.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Stop did not cancel the running task")
		}
	})

	t.Run("Given a stopped scheduler, when started again, then it resumes running", func(t *testing.T) {
		var runs int32
		s := app.NewScheduler(time.Hour, countingTask(&runs), discardLogger())

		for cycle := int32(1); cycle <= 3; cycle++ {
			s.Start()
			want := cycle
			require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == want }, time.Second, 5*time.Millisecond)
			s.Stop()
		}
	})
}
