// Package performance rolls settled orders up into per-strategy statistics and
// produces the daily report.
package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"betbot/internal/clock"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/pricing"
	"betbot/internal/store"
)

// Aggregator computes rolling profit and loss per strategy from settled orders.
type Aggregator struct {
	store store.Store
	clock clock.Clock
	hour  int
	loc   *time.Location
}

func NewAggregator(st store.Store, clk clock.Clock, nightlyHour int) *Aggregator {
	return &Aggregator{store: st, clock: clk, hour: nightlyHour, loc: time.Local}
}

func (a *Aggregator) Name() string { return "statistics" }

// RunOnce recomputes every statistic and sleeps until the next nightly run.
func (a *Aggregator) RunOnce(ctx context.Context) (time.Duration, error) {
	if err := a.Recompute(ctx); err != nil {
		return 0, err
	}
	return UntilHour(a.clock.Now().In(a.loc), a.hour), nil
}

// windows holds the start of each rolling window for one instant.
type windows struct {
	day, week, month, year time.Time
}

func windowsAt(now time.Time) windows {
	day := model.StartOfDay(now)
	// ISO weeks start on Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return windows{
		day:   day,
		week:  day.AddDate(0, 0, -offset),
		month: time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC),
		year:  time.Date(day.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Recompute rebuilds every strategy's statistic, plus the totals row, from the orders table.
func (a *Aggregator) Recompute(ctx context.Context) error {
	now := a.clock.Now()
	w := windowsAt(now)

	states, err := a.store.ListStrategyStates(ctx)
	if err != nil {
		return fmt.Errorf("listing strategies: %w", err)
	}
	orders, err := a.store.SettledOrders(ctx, "", time.Time{}, w.day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("loading settled orders: %w", err)
	}

	stats := make(map[string]*model.Statistic, len(states)+1)
	refs := make([]string, 0, len(states)+1)
	for _, s := range states {
		stats[s.Ref] = &model.Statistic{Ref: s.Ref, UpdatedAt: now}
		refs = append(refs, s.Ref)
	}
	stats[model.TotalsRef] = &model.Statistic{Ref: model.TotalsRef, UpdatedAt: now}
	refs = append(refs, model.TotalsRef)

	for _, o := range orders {
		targets := []*model.Statistic{stats[model.TotalsRef]}
		if st, ok := stats[o.StrategyRef]; ok {
			targets = append(targets, st)
		}
		for _, st := range targets {
			addToWindows(st, o, w)
		}
	}

	out := make([]model.Statistic, 0, len(refs))
	for _, ref := range refs {
		out = append(out, *stats[ref])
	}
	if err := a.store.UpsertStatistics(ctx, out); err != nil {
		return fmt.Errorf("storing statistics: %w", err)
	}
	publish(out)
	LogStatistics(out)
	slog.Info("statistics recomputed", "strategies", len(states), "orders", len(orders))
	return nil
}

func addToWindows(st *model.Statistic, o model.Order, w windows) {
	p := o.ProfitOrZero()
	settled := o.SettledAt
	st.Lifetime = pricing.Sum(st.Lifetime, p)
	if !settled.Before(w.year) {
		st.Yearly = pricing.Sum(st.Yearly, p)
	}
	if !settled.Before(w.month) {
		st.Monthly = pricing.Sum(st.Monthly, p)
	}
	if !settled.Before(w.week) {
		st.Weekly = pricing.Sum(st.Weekly, p)
	}
	if !settled.Before(w.day) {
		st.Daily = pricing.Sum(st.Daily, p)
	}
}

// ApplyDelta adds newly settled orders to the stored statistics without a full
// recompute. Windows that rolled over since the last update start again from zero.
func (a *Aggregator) ApplyDelta(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	now := a.clock.Now()
	w := windowsAt(now)

	delta := make(map[string]float64)
	var refs []string
	add := func(ref string, p float64) {
		if _, ok := delta[ref]; !ok {
			refs = append(refs, ref)
		}
		delta[ref] = pricing.Sum(delta[ref], p)
	}
	for _, o := range orders {
		add(o.StrategyRef, o.ProfitOrZero())
		add(model.TotalsRef, o.ProfitOrZero())
	}

	out := make([]model.Statistic, 0, len(refs))
	for _, ref := range refs {
		st, err := a.store.GetStatistic(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			st = &model.Statistic{Ref: ref}
		} else if err != nil {
			return fmt.Errorf("loading statistic %s: %w", ref, err)
		}
		rollover(st, w)
		p := delta[ref]
		st.Daily = pricing.Sum(st.Daily, p)
		st.Weekly = pricing.Sum(st.Weekly, p)
		st.Monthly = pricing.Sum(st.Monthly, p)
		st.Yearly = pricing.Sum(st.Yearly, p)
		st.Lifetime = pricing.Sum(st.Lifetime, p)
		st.UpdatedAt = now
		out = append(out, *st)
	}
	if err := a.store.UpsertStatistics(ctx, out); err != nil {
		return fmt.Errorf("storing statistics: %w", err)
	}
	publish(out)
	return nil
}

func rollover(st *model.Statistic, w windows) {
	if st.UpdatedAt.Before(w.day) {
		st.Daily = 0
	}
	if st.UpdatedAt.Before(w.week) {
		st.Weekly = 0
	}
	if st.UpdatedAt.Before(w.month) {
		st.Monthly = 0
	}
	if st.UpdatedAt.Before(w.year) {
		st.Yearly = 0
	}
}

func publish(stats []model.Statistic) {
	for _, s := range stats {
		metrics.StrategyPnL.WithLabelValues(s.Ref, "daily").Set(s.Daily)
		metrics.StrategyPnL.WithLabelValues(s.Ref, "weekly").Set(s.Weekly)
		metrics.StrategyPnL.WithLabelValues(s.Ref, "monthly").Set(s.Monthly)
		metrics.StrategyPnL.WithLabelValues(s.Ref, "yearly").Set(s.Yearly)
		metrics.StrategyPnL.WithLabelValues(s.Ref, "lifetime").Set(s.Lifetime)
	}
}

// UntilHour is the wait from now until the next hh:00 in now's location.
func UntilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
