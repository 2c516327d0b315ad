package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/clock"
)

type scriptedWorker struct {
	name   string
	steps  []func() (time.Duration, error)
	cancel context.CancelFunc

	mu   sync.Mutex
	runs int
}

func (w *scriptedWorker) Name() string { return w.name }

func (w *scriptedWorker) RunOnce(ctx context.Context) (time.Duration, error) {
	w.mu.Lock()
	i := w.runs
	w.runs++
	w.mu.Unlock()
	if i >= len(w.steps) {
		w.cancel()
		return 0, nil
	}
	return w.steps[i]()
}

func TestScheduler_CooldownAfterErrorAndPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC))
	w := &scriptedWorker{
		name:   "flaky",
		cancel: cancel,
		steps: []func() (time.Duration, error){
			func() (time.Duration, error) { return 0, errors.New("exchange down") },
			func() (time.Duration, error) { panic("boom") },
			func() (time.Duration, error) { return 5 * time.Second, nil },
		},
	}

	s := New(clk, 60*time.Second, w)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second, 5 * time.Second}, clk.Sleeps())
	assert.Equal(t, 4, w.runs)
}

func TestScheduler_OneWorkerFailingDoesNotStopOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC))
	var (
		mu      sync.Mutex
		healthy int
	)
	failing := &scriptedWorker{name: "failing", cancel: func() {}}
	for i := 0; i < 10; i++ {
		failing.steps = append(failing.steps, func() (time.Duration, error) { return 0, errors.New("always") })
	}
	ok := &scriptedWorker{name: "ok", cancel: cancel}
	for i := 0; i < 3; i++ {
		ok.steps = append(ok.steps, func() (time.Duration, error) {
			mu.Lock()
			healthy++
			mu.Unlock()
			return time.Second, nil
		})
	}

	require.NoError(t, New(clk, time.Minute, failing, ok).Run(ctx))
	assert.Equal(t, 3, healthy)
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("watcher", func() {
		defer close(done)
		panic("watcher crashed")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}
