// Package tracker records each market's order book around its start time.
//
// The outer loop wakes shortly before the next market starts and hands every
// market sharing that start time to its own watcher goroutine. Watchers poll on
// a cadence that depends on how close the market is to starting and what state
// its book is in, and stop once the market closes.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/exchange"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/scheduler"
	"betbot/internal/store"
)

// Watch modes.
const (
	ModeSnapshot   = "snapshot"
	ModeIndicative = "indicative"
)

const upcomingLimit = 50

type Tracker struct {
	ex    exchange.Exchange
	store store.Store
	clock clock.Clock
	cfg   config.TrackerConfig

	// spawn launches a watcher; scheduler.Go outside tests.
	spawn func(name string, fn func())

	mu       sync.Mutex
	watching map[string]bool
}

func New(ex exchange.Exchange, st store.Store, clk clock.Clock, cfg config.TrackerConfig) *Tracker {
	return &Tracker{
		ex:       ex,
		store:    st,
		clock:    clk,
		cfg:      cfg,
		spawn:    scheduler.Go,
		watching: make(map[string]bool),
	}
}

func (t *Tracker) Name() string { return "tracker" }

// Watching reports how many markets have a live watcher.
func (t *Tracker) Watching() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watching)
}

func (t *Tracker) claim(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watching[id] {
		return false
	}
	t.watching[id] = true
	metrics.ActiveWatchers.Set(float64(len(t.watching)))
	return true
}

func (t *Tracker) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watching, id)
	metrics.ActiveWatchers.Set(float64(len(t.watching)))
}

func (t *Tracker) isWatching(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watching[id]
}

func (t *Tracker) RunOnce(ctx context.Context) (time.Duration, error) {
	now := t.clock.Now()
	upcoming, err := t.store.UpcomingMarkets(ctx, now, upcomingLimit)
	if err != nil {
		return 0, err
	}

	var pending []model.Market
	for _, m := range upcoming {
		if !t.isWatching(m.ID) {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return t.cfg.Fallback.Duration, nil
	}

	// Markets are ordered by start time, so every tie with the first shares the minimum.
	minStart := pending[0].StartTime
	delta := minStart.Sub(now)
	if delta >= t.cfg.Trigger.Duration {
		wait := max(delta-t.cfg.Trigger.Duration, 0)
		slog.Debug("next market not due", "market", pending[0].ID, "starts_in", delta.Round(time.Second))
		return min(wait, t.cfg.Fallback.Duration), nil
	}

	for _, m := range pending {
		if !m.StartTime.Equal(minStart) {
			break
		}
		if !t.claim(m.ID) {
			continue
		}
		slog.Info("tracking market book", "market", m.ID, "name", m.Label(), "mode", t.cfg.Mode)
		t.spawn("watcher:"+m.ID, func() {
			defer t.release(m.ID)
			t.Watch(ctx, m)
		})
	}
	return 0, nil
}

// Watch polls one market until it closes, the deadline passes or ctx ends.
func (t *Tracker) Watch(ctx context.Context, m model.Market) {
	var err error
	if t.cfg.Mode == ModeIndicative {
		err = t.watchIndicative(ctx, m)
	} else {
		err = t.watchSnapshots(ctx, m)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("market watch ended early", "market", m.ID, "error", err)
		return
	}
	slog.Info("market book tracking ended", "market", m.ID, "name", m.Label())
}

type phase int

const (
	phasePreStart phase = iota
	phaseInPlay
	phaseClosing
	phaseClosed
)

func phaseOf(b *model.Book, start, now time.Time) phase {
	switch {
	case b.Status == model.StatusClosed:
		return phaseClosed
	case b.Status == model.StatusOpen && !b.InPlay && now.Before(start):
		return phasePreStart
	case b.Status == model.StatusOpen:
		return phaseInPlay
	default:
		return phaseClosing
	}
}

func (t *Tracker) pollInterval(p phase, start, now time.Time) time.Duration {
	switch p {
	case phasePreStart:
		if start.Sub(now) <= t.cfg.FinalWindow.Duration {
			return t.cfg.FinalPoll.Duration
		}
		return t.cfg.PreStartPoll.Duration
	case phaseInPlay:
		return t.cfg.InPlayPoll.Duration
	default:
		return t.cfg.ClosingPoll.Duration
	}
}

func (t *Tracker) watchSnapshots(ctx context.Context, m model.Market) error {
	deadline := m.StartTime.Add(t.cfg.MaxWatch.Duration)
	for {
		now := t.clock.Now()
		if now.After(deadline) {
			return fmt.Errorf("watch deadline %s passed without the market closing", deadline.Format(time.RFC3339))
		}

		book, err := t.capture(ctx, m.ID, now)
		if err != nil {
			slog.Warn("capturing market book failed", "market", m.ID, "error", err)
			if err := t.clock.Sleep(ctx, t.cfg.InPlayPoll.Duration); err != nil {
				return err
			}
			continue
		}

		p := phaseOf(book, m.StartTime, now)
		if p == phaseClosed {
			t.recordDeclared(ctx, book)
			return nil
		}
		if err := t.clock.Sleep(ctx, t.pollInterval(p, m.StartTime, now)); err != nil {
			return err
		}
	}
}

// watchIndicative waits until just before the start, then polls quickly for a
// runner trading at a price that all but settles the market.
func (t *Tracker) watchIndicative(ctx context.Context, m model.Market) error {
	if wait := m.StartTime.Add(-t.cfg.IndicativeLead.Duration).Sub(t.clock.Now()); wait > 0 {
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	deadline := m.StartTime.Add(t.cfg.MaxWatch.Duration)
	for {
		now := t.clock.Now()
		if now.After(deadline) {
			return fmt.Errorf("watch deadline %s passed without a result", deadline.Format(time.RFC3339))
		}

		book, err := t.capture(ctx, m.ID, now)
		if err != nil {
			slog.Warn("capturing market book failed", "market", m.ID, "error", err)
		} else {
			if book.Status == model.StatusClosed {
				t.recordDeclared(ctx, book)
				return nil
			}
			if sel, ok := indicativeWinner(book, t.cfg.IndicativeThreshold); ok {
				w := model.Winner{MarketID: m.ID, SelectionID: sel, Source: model.WinnerIndicative, DeclaredAt: now}
				if err := t.store.UpsertWinner(ctx, w); err != nil {
					return fmt.Errorf("storing indicative winner: %w", err)
				}
				slog.Info("indicative winner found", "market", m.ID, "selection", sel)
				return nil
			}
		}
		if err := t.clock.Sleep(ctx, t.cfg.IndicativePoll.Duration); err != nil {
			return err
		}
	}
}

func (t *Tracker) capture(ctx context.Context, marketID string, now time.Time) (*model.Book, error) {
	book, err := t.ex.MarketBook(ctx, marketID)
	if err != nil {
		return nil, err
	}
	book.CapturedAt = now
	if err := t.store.InsertSnapshot(ctx, *book); err != nil {
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}
	metrics.SnapshotsStored.Inc()
	return book, nil
}

func (t *Tracker) recordDeclared(ctx context.Context, book *model.Book) {
	for _, r := range book.Runners {
		if r.Status != model.RunnerWinner {
			continue
		}
		w := model.Winner{MarketID: book.MarketID, SelectionID: r.SelectionID, Source: model.WinnerDeclared, DeclaredAt: book.CapturedAt}
		if err := t.store.UpsertWinner(ctx, w); err != nil {
			slog.Warn("storing declared winner failed", "market", book.MarketID, "error", err)
		}
		return
	}
}

// indicativeWinner returns the first active runner whose best lay price is under threshold.
func indicativeWinner(b *model.Book, threshold float64) (int64, bool) {
	for _, r := range b.Runners {
		if r.Status != model.RunnerActive || len(r.AvailableToLay) == 0 {
			continue
		}
		if p := r.AvailableToLay[0].Price; p > 0 && p < threshold {
			return r.SelectionID, true
		}
	}
	return 0, false
}
