package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/execution"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/store"
)

const (
	snapshotRetry = 5 * time.Second
	snapshotGrace = 10 * time.Second
)

// Placer submits the bets collected for one market.
type Placer interface {
	PlaceBets(ctx context.Context, market model.Market, bets map[string][]model.BetRequest) (execution.Summary, error)
}

// Notifier delivers a short text message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Engine plays the next market: it waits until just before the start, asks
// every enabled strategy for bets and hands them to the placer.
type Engine struct {
	store      store.Store
	clock      clock.Clock
	placer     Placer
	notifier   Notifier
	strategies []Strategy
	window     time.Duration
	idle       time.Duration
}

func NewEngine(st store.Store, clk clock.Clock, placer Placer, notifier Notifier, strategies []Strategy, sched config.ScheduleConfig) *Engine {
	return &Engine{
		store:      st,
		clock:      clk,
		placer:     placer,
		notifier:   notifier,
		strategies: strategies,
		window:     sched.PlayWindow.Duration,
		idle:       sched.IdlePoll.Duration,
	}
}

func (e *Engine) Name() string { return "engine" }

func (e *Engine) RunOnce(ctx context.Context) (time.Duration, error) {
	m, err := e.store.NextPlayable(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return e.idle, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding next market: %w", err)
	}

	now := e.clock.Now()
	wait := m.StartTime.Sub(now)
	if wait < 0 {
		slog.Info("market already started, skipping", "market", m.ID, "name", m.Label(), "late_by", (-wait).Round(time.Second))
		return 0, e.skip(ctx, m, model.SkipMarketInPast, now)
	}
	if wait >= e.window {
		return wait - e.window, nil
	}

	book, err := e.store.LatestSnapshot(ctx, m.ID)
	if errors.Is(err, store.ErrNotFound) {
		if wait <= snapshotGrace {
			slog.Warn("no book snapshot before start, skipping", "market", m.ID)
			return 0, e.skip(ctx, m, model.SkipNoBookSnapshot, now)
		}
		return snapshotRetry, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}

	bets := e.collect(ctx, *m, book)
	if len(bets) == 0 {
		return 0, e.skip(ctx, m, model.SkipNoBetsCreated, now)
	}

	summary, err := e.placer.PlaceBets(ctx, *m, bets)
	if err != nil {
		return 0, fmt.Errorf("placing bets on %s: %w", m.ID, err)
	}
	e.notify(ctx, *m, summary)
	return 0, nil
}

// collect asks each strategy for bets. A strategy that fails is logged and
// left out so the others still play.
func (e *Engine) collect(ctx context.Context, m model.Market, book *model.Book) map[string][]model.BetRequest {
	bets := make(map[string][]model.BetRequest)
	for _, s := range e.strategies {
		res, err := s.CreateBets(ctx, m, book)
		if err != nil {
			slog.Error("strategy failed", "strategy", s.Reference(), "market", m.ID, "error", err)
			continue
		}
		if res.IsSkipped() {
			slog.Info("no bets created", "strategy", s.Reference(), "market", m.ID, "reason", res.Reason)
			continue
		}
		bets[s.Reference()] = res.Requests
	}
	return bets
}

func (e *Engine) skip(ctx context.Context, m *model.Market, code string, at time.Time) error {
	if err := e.store.SetSkipped(ctx, m.ID, code, at); err != nil {
		return fmt.Errorf("skipping %s: %w", m.ID, err)
	}
	metrics.MarketDecisions.WithLabelValues("skipped", code).Inc()
	return nil
}

func (e *Engine) notify(ctx context.Context, m model.Market, s execution.Summary) {
	if e.notifier == nil || s.Placed == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", m.StartTime.Format("15:04"), m.Label(), m.ID)
	for _, line := range s.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := e.notifier.Send(ctx, strings.TrimSpace(b.String())); err != nil {
		slog.Warn("notification failed", "market", m.ID, "error", err)
	}
}
