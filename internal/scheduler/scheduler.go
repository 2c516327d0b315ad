// Package scheduler runs every worker as an independent, never-ending loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"betbot/internal/clock"
	"betbot/internal/metrics"
)

// DefaultCooldown is how long a worker waits after a failed iteration.
const DefaultCooldown = 60 * time.Second

// Worker is one periodic task. RunOnce returns how long to sleep before the next
// iteration; an error triggers the cooldown instead.
type Worker interface {
	Name() string
	RunOnce(ctx context.Context) (next time.Duration, err error)
}

// Scheduler orchestrates the worker loops.
type Scheduler struct {
	workers  []Worker
	clock    clock.Clock
	cooldown time.Duration
}

func New(clk clock.Clock, cooldown time.Duration, workers ...Worker) *Scheduler {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Scheduler{workers: workers, clock: clk, cooldown: cooldown}
}

// Run starts all worker loops and blocks until ctx is cancelled.
// Workers never fail the group; only cancellation ends them.
func (s *Scheduler) Run(ctx context.Context) error {
	names := make([]string, 0, len(s.workers))
	for _, w := range s.workers {
		names = append(names, w.Name())
	}
	slog.Info("scheduler starting", "workers", names, "cooldown", s.cooldown)

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		g.Go(func() error {
			s.loop(ctx, w)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, w Worker) {
	slog.Info("worker started", "worker", w.Name())
	for {
		if ctx.Err() != nil {
			slog.Info("worker stopped", "worker", w.Name())
			return
		}

		next, err := s.runOnce(ctx, w)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("worker iteration failed", "worker", w.Name(), "error", err, "retry_in", s.cooldown)
			next = s.cooldown
		}

		if err := s.clock.Sleep(ctx, next); err != nil {
			slog.Info("worker stopped", "worker", w.Name())
			return
		}
	}
}

// runOnce isolates a single iteration: a panic becomes an error so the loop survives.
func (s *Scheduler) runOnce(ctx context.Context, w Worker) (next time.Duration, err error) {
	start := time.Now()
	defer func() {
		metrics.WorkerDuration.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.WorkerRuns.WithLabelValues(w.Name(), "panic").Inc()
			slog.Error("worker panicked", "worker", w.Name(), "panic", r, "stack", string(debug.Stack()))
			next, err = 0, fmt.Errorf("panic: %v", r)
		}
	}()

	next, err = w.RunOnce(ctx)
	if err != nil {
		metrics.WorkerRuns.WithLabelValues(w.Name(), "error").Inc()
	} else {
		metrics.WorkerRuns.WithLabelValues(w.Name(), "ok").Inc()
	}
	return next, err
}

// Go runs fn in a goroutine that recovers from panics, for fire-and-forget tasks
// spawned by workers.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
