package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"betbot/internal/clock"
	"betbot/internal/exchange"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/pricing"
	"betbot/internal/store"
)

// SettlementConsistencyError is a cleared order with no matching instruction.
type SettlementConsistencyError struct {
	BetID string
}

func (e *SettlementConsistencyError) Error() string {
	return fmt.Sprintf("cleared order %s has no instruction", e.BetID)
}

// StatsUpdater folds newly settled orders into the rolling statistics and can
// rebuild them from the stored orders.
type StatsUpdater interface {
	ApplyDelta(ctx context.Context, orders []model.Order) error
	Recompute(ctx context.Context) error
}

// FundsRefresher reloads the account balance.
type FundsRefresher interface {
	Refresh(ctx context.Context) error
}

// Reconciler settles outstanding instructions, from the exchange for live bets
// and from the race result for simulated ones.
type Reconciler struct {
	ex       exchange.Exchange
	store    store.Store
	clock    clock.Clock
	stats    StatsUpdater
	funds    FundsRefresher
	interval time.Duration
}

func NewReconciler(ex exchange.Exchange, st store.Store, clk clock.Clock, stats StatsUpdater, funds FundsRefresher, interval time.Duration) *Reconciler {
	return &Reconciler{ex: ex, store: st, clock: clk, stats: stats, funds: funds, interval: interval}
}

func (r *Reconciler) Name() string { return "reconciler" }

// RunOnce settles live then simulated bets. Whatever one path committed is
// published to the statistics even when the other path fails.
func (r *Reconciler) RunOnce(ctx context.Context) (time.Duration, error) {
	var errs []error

	live, err := r.settleLive(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if err := r.publish(ctx, live); err != nil {
		errs = append(errs, err)
	}
	if len(live) > 0 && r.funds != nil {
		if err := r.funds.Refresh(ctx); err != nil {
			slog.Warn("refreshing funds after settlement failed", "error", err)
		}
	}

	simulated, err := r.settleSimulated(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if err := r.publish(ctx, simulated); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return 0, err
	}
	return r.interval, nil
}

// publish applies the statistics delta for committed orders. The orders are
// already settled and will not be seen again, so a failed delta falls back to
// a full recompute.
func (r *Reconciler) publish(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 || r.stats == nil {
		return nil
	}
	err := r.stats.ApplyDelta(ctx, orders)
	if err == nil {
		return nil
	}
	slog.Warn("statistics delta failed, recomputing", "orders", len(orders), "error", err)
	if err := r.stats.Recompute(ctx); err != nil {
		return fmt.Errorf("recomputing statistics: %w", err)
	}
	return nil
}

func (r *Reconciler) settleLive(ctx context.Context) ([]model.Order, error) {
	pending, err := r.store.UnsettledInstructions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("loading live instructions: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	byID := make(map[string]model.Instruction, len(pending))
	ids := make([]string, 0, len(pending))
	for _, in := range pending {
		byID[in.BetID] = in
		ids = append(ids, in.BetID)
	}

	current, err := r.ex.CurrentOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("listing current orders: %w", err)
	}
	for i := range current {
		fillFromInstruction(&current[i], byID[current[i].BetID])
	}
	if len(current) > 0 {
		if err := r.store.UpsertOrders(ctx, current); err != nil {
			return nil, fmt.Errorf("storing current orders: %w", err)
		}
	}

	clearedOrders, err := r.ex.ClearedOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("listing cleared orders: %w", err)
	}

	var (
		settled    []model.Order
		settledIDs []string
		cleared    = make(map[string]bool, len(clearedOrders))
	)
	for _, o := range clearedOrders {
		in, ok := byID[o.BetID]
		if !ok {
			err := &SettlementConsistencyError{BetID: o.BetID}
			metrics.SettlementInconsistencies.Inc()
			slog.Warn("skipping cleared order", "bet", o.BetID, "market", o.MarketID, "error", err)
			continue
		}
		fillFromInstruction(&o, in)
		settled = append(settled, o)
		settledIDs = append(settledIDs, o.BetID)
		cleared[o.BetID] = true
	}
	if err := r.commit(ctx, settled, settledIDs); err != nil {
		return nil, err
	}
	if err := r.closeLapsed(ctx, current, cleared); err != nil {
		return settled, err
	}
	return settled, nil
}

// closeLapsed settles instructions whose order finished without matching
// anything. Lapsed and cancelled orders never clear as SETTLED, and carry no
// profit, so no order result is recorded for them.
func (r *Reconciler) closeLapsed(ctx context.Context, current []model.Order, cleared map[string]bool) error {
	var lapsed []string
	for _, o := range current {
		if o.Status == model.ExecutionComplete && o.SizeSettled == 0 && !cleared[o.BetID] {
			lapsed = append(lapsed, o.BetID)
		}
	}
	if len(lapsed) == 0 {
		return nil
	}
	if err := r.store.SetSettled(ctx, lapsed); err != nil {
		return fmt.Errorf("closing lapsed instructions: %w", err)
	}
	slog.Info("closed unmatched instructions", "bets", lapsed)
	return nil
}

// settleSimulated resolves simulated bets from the runner's result.
func (r *Reconciler) settleSimulated(ctx context.Context) ([]model.Order, error) {
	pending, err := r.store.UnsettledInstructions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("loading simulated instructions: %w", err)
	}

	var (
		settled    []model.Order
		settledIDs []string
	)
	now := r.clock.Now()
	for _, in := range pending {
		outcome, ok := r.simulatedOutcome(ctx, in)
		if !ok {
			continue
		}
		profit := pricing.Profit(in.Side, in.Size, in.Price, outcome)
		settled = append(settled, model.Order{
			BetID:        in.BetID,
			MarketID:     in.MarketID,
			SelectionID:  in.SelectionID,
			StrategyRef:  in.StrategyRef,
			Side:         in.Side,
			Type:         in.Type,
			Status:       model.ExecutionComplete,
			SizeSettled:  in.Size,
			PriceMatched: in.Price,
			PlacedAt:     in.PlacedAt,
			SettledAt:    now,
			Outcome:      outcome,
			Profit:       &profit,
			Simulated:    true,
		})
		settledIDs = append(settledIDs, in.BetID)
	}
	if err := r.commit(ctx, settled, settledIDs); err != nil {
		return nil, err
	}
	return settled, nil
}

func (r *Reconciler) commit(ctx context.Context, orders []model.Order, betIDs []string) error {
	if len(orders) == 0 {
		return nil
	}
	if err := r.store.UpsertOrders(ctx, orders); err != nil {
		return fmt.Errorf("storing settled orders: %w", err)
	}
	if err := r.store.SetSettled(ctx, betIDs); err != nil {
		return fmt.Errorf("marking instructions settled: %w", err)
	}
	for _, o := range orders {
		metrics.OrdersSettled.WithLabelValues(o.StrategyRef, string(o.Outcome)).Inc()
		slog.Info("order settled", "bet", o.BetID, "strategy", o.StrategyRef, "market", o.MarketID,
			"outcome", o.Outcome, "profit", o.ProfitOrZero(), "simulated", o.Simulated)
	}
	return nil
}

// simulatedOutcome reads the runner's status from the exchange and falls back
// to a stored winner when the book has no result yet.
func (r *Reconciler) simulatedOutcome(ctx context.Context, in model.Instruction) (model.Outcome, bool) {
	var runnerWon bool
	rb, err := r.ex.RunnerBook(ctx, in.MarketID, in.SelectionID)
	switch {
	case err == nil && rb.Status == model.RunnerRemoved:
		return model.Void, true
	case err == nil && rb.Status == model.RunnerWinner:
		runnerWon = true
	case err == nil && rb.Status == model.RunnerLoser:
		runnerWon = false
	default:
		if err != nil {
			slog.Debug("runner book unavailable, checking stored winner", "market", in.MarketID, "error", err)
		}
		w, err := r.store.GetWinner(ctx, in.MarketID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("loading winner failed", "market", in.MarketID, "error", err)
			}
			return "", false
		}
		runnerWon = w.SelectionID == in.SelectionID
	}

	if runnerWon == (in.Side == model.Back) {
		return model.Won, true
	}
	return model.Lost, true
}

func fillFromInstruction(o *model.Order, in model.Instruction) {
	if o.StrategyRef == "" {
		o.StrategyRef = in.StrategyRef
	}
	if o.MarketID == "" {
		o.MarketID = in.MarketID
	}
	if o.PlacedAt.IsZero() {
		o.PlacedAt = in.PlacedAt
	}
}
