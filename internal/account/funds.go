// Package account keeps the stored wallet balance current.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"betbot/internal/clock"
	"betbot/internal/exchange"
	"betbot/internal/metrics"
	"betbot/internal/store"
)

// Funds tracks the account balance and exposure.
type Funds struct {
	ex       exchange.Exchange
	store    store.Store
	clock    clock.Clock
	interval time.Duration
}

func NewFunds(ex exchange.Exchange, st store.Store, clk clock.Clock, interval time.Duration) *Funds {
	return &Funds{ex: ex, store: st, clock: clk, interval: interval}
}

func (f *Funds) Name() string { return "funds" }

func (f *Funds) RunOnce(ctx context.Context) (time.Duration, error) {
	if err := f.Refresh(ctx); err != nil {
		return 0, err
	}
	return f.interval, nil
}

// Refresh fetches the latest balance from the exchange and stores it.
func (f *Funds) Refresh(ctx context.Context) error {
	funds, err := f.ex.AccountFunds(ctx)
	if err != nil {
		return fmt.Errorf("getting account funds: %w", err)
	}
	funds.UpdatedAt = f.clock.Now()
	if err := f.store.UpsertAccountFunds(ctx, *funds); err != nil {
		return fmt.Errorf("storing account funds: %w", err)
	}

	metrics.AccountAvailable.Set(funds.Available)
	metrics.AccountExposure.Set(funds.Exposure)
	slog.Info("account funds refreshed",
		"wallet", funds.Wallet,
		"available", funds.Available,
		"exposure", funds.Exposure,
	)
	return nil
}
