// Package catalog keeps the markets table in step with the exchange's list of
// upcoming events.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/exchange"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/store"
)

// Sync periodically upserts upcoming markets and their runners.
type Sync struct {
	ex       exchange.Exchange
	store    store.Store
	clock    clock.Clock
	filter   config.CatalogConfig
	interval time.Duration
	backoff  time.Duration
	guard    time.Duration
}

func NewSync(ex exchange.Exchange, st store.Store, clk clock.Clock, filter config.CatalogConfig, sched config.ScheduleConfig) *Sync {
	return &Sync{
		ex:       ex,
		store:    st,
		clock:    clk,
		filter:   filter,
		interval: sched.CatalogInterval.Duration,
		backoff:  sched.CatalogBackoff.Duration,
		guard:    sched.PlayGuard.Duration,
	}
}

func (s *Sync) Name() string { return "catalog" }

func (s *Sync) RunOnce(ctx context.Context) (time.Duration, error) {
	recent, err := s.recentlyPlayed(ctx)
	if err != nil {
		return 0, err
	}
	if recent {
		slog.Info("skipping market refresh, a market was just played", "retry_in", s.backoff)
		return s.backoff, nil
	}
	if _, err := s.Refresh(ctx); err != nil {
		return 0, err
	}
	return s.interval, nil
}

// recentlyPlayed keeps the refresh away from the moment a market is being played.
func (s *Sync) recentlyPlayed(ctx context.Context) (bool, error) {
	last, err := s.store.LastDecision(ctx)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return s.clock.Now().Sub(last) < s.guard, nil
}

// Refresh fetches markets and upserts them with their runners.
func (s *Sync) Refresh(ctx context.Context) (int, error) {
	markets, err := s.ex.ListMarkets(ctx, exchange.MarketFilter{
		EventTypeIDs: s.filter.EventTypeIDs,
		MarketTypes:  s.filter.MarketTypes,
		Countries:    s.filter.Countries,
		MaxResults:   s.filter.MaxResults,
	})
	if err != nil {
		return 0, fmt.Errorf("listing markets: %w", err)
	}

	var runners []model.Runner
	for _, m := range markets {
		runners = append(runners, m.Runners...)
	}

	if err := s.store.UpsertMarkets(ctx, markets); err != nil {
		return 0, fmt.Errorf("upserting markets: %w", err)
	}
	if len(runners) > 0 {
		if err := s.store.UpsertRunners(ctx, runners); err != nil {
			return 0, fmt.Errorf("upserting runners: %w", err)
		}
	}

	metrics.MarketsSynced.Add(float64(len(markets)))
	slog.Info("market refresh complete", "markets_upserted", len(markets), "runners_upserted", len(runners))
	return len(markets), nil
}
